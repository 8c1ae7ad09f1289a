//go:build !cgo

package syntax

import "context"

// Available reports whether Parse can be used in this build.
func Available() bool { return false }

// Parse always fails without cgo; tree-sitter is a C library.
func Parse(_ context.Context, _ []byte) (*Tree, error) {
	return nil, ErrUnavailable
}
