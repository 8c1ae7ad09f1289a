// Package syntax parses Python source into an immutable tree that the
// analyzers walk. The tree-sitter parse tree is copied into plain Go values
// so nothing downstream depends on cgo handles or their lifetimes.
package syntax

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by Parse when the binary was built without cgo.
var ErrUnavailable = errors.New("python parsing requires cgo (tree-sitter)")

// SyntaxError reports malformed source.
type SyntaxError struct {
	Line int
	Kind string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error near line %d (%s)", e.Line, e.Kind)
}

// Node is one node of a parsed tree. Lines are 1-based and inclusive.
type Node struct {
	Type      string
	Named     bool
	Field     string
	Missing   bool
	StartLine int
	EndLine   int
	StartByte uint32
	EndByte   uint32
	Children  []*Node
}

// ChildByField returns the first child attached under the given field name.
func (n *Node) ChildByField(field string) *Node {
	for _, c := range n.Children {
		if c.Field == field {
			return c
		}
	}
	return nil
}

// NamedChildren returns the named children, skipping punctuation tokens.
func (n *Node) NamedChildren() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Named {
			out = append(out, c)
		}
	}
	return out
}

// Tree is a parsed source file.
type Tree struct {
	Source []byte
	Root   *Node
}

// Text returns the source text covered by n.
func (t *Tree) Text(n *Node) string {
	if n == nil || int(n.EndByte) > len(t.Source) || n.StartByte > n.EndByte {
		return ""
	}
	return string(t.Source[n.StartByte:n.EndByte])
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Function is a function or method definition found in a tree.
type Function struct {
	Node      *Node
	Name      string
	ClassName string
	TopLevel  bool
	StartLine int
	EndLine   int
}

// Params returns the parameter list node, or nil.
func (f Function) Params() *Node { return f.Node.ChildByField("parameters") }

// Body returns the body block node, or nil.
func (f Function) Body() *Node { return f.Node.ChildByField("body") }

// Functions returns every function definition in source order, including
// methods and nested functions. ClassName is the nearest enclosing class.
func (t *Tree) Functions() []Function {
	var out []Function
	var visit func(n *Node, class string, depth int)
	visit = func(n *Node, class string, depth int) {
		for _, c := range n.Children {
			switch c.Type {
			case "class_definition":
				name := t.Text(c.ChildByField("name"))
				visit(c, name, depth+1)
			case "function_definition":
				out = append(out, Function{
					Node:      c,
					Name:      t.Text(c.ChildByField("name")),
					ClassName: class,
					TopLevel:  depth == 0,
					StartLine: c.StartLine,
					EndLine:   c.EndLine,
				})
				visit(c, class, depth+1)
			default:
				// Blocks, decorators and compound statements do not nest
				// definitions; a def under a module-level if is still top level.
				visit(c, class, depth)
			}
		}
	}
	visit(t.Root, "", 0)
	return out
}

// firstError finds the first ERROR or missing node in n.
func firstError(n *Node) *Node {
	var found *Node
	Walk(n, func(c *Node) bool {
		if found != nil {
			return false
		}
		if c.Type == "ERROR" || c.Missing {
			found = c
			return false
		}
		return true
	})
	return found
}
