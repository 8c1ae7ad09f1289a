//go:build cgo

package syntax

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// fieldNames are the grammar fields the analyzers look up.
var fieldNames = []string{
	"name", "parameters", "body", "return_type", "type", "value",
	"left", "right", "operator", "attribute", "object", "function",
	"arguments", "condition", "consequence", "alternative", "alias",
}

// Available reports whether Parse can be used in this build.
func Available() bool { return true }

// Parse parses Python source. Malformed source yields a *SyntaxError.
func Parse(ctx context.Context, source []byte) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	st, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	defer st.Close()

	root := convert(st.RootNode(), "")
	tree := &Tree{Source: source, Root: root}

	if st.RootNode().HasError() {
		if bad := firstError(root); bad != nil {
			kind := "unexpected token"
			if bad.Missing {
				kind = "missing " + bad.Type
			}
			return nil, &SyntaxError{Line: bad.StartLine, Kind: kind}
		}
		return nil, &SyntaxError{Line: 1, Kind: "unexpected token"}
	}
	return tree, nil
}

func convert(sn *sitter.Node, field string) *Node {
	n := &Node{
		Type:      sn.Type(),
		Named:     sn.IsNamed(),
		Field:     field,
		Missing:   sn.IsMissing(),
		StartLine: int(sn.StartPoint().Row) + 1,
		EndLine:   int(sn.EndPoint().Row) + 1,
		StartByte: sn.StartByte(),
		EndByte:   sn.EndByte(),
	}

	count := int(sn.ChildCount())
	if count == 0 {
		return n
	}

	fields := childFields(sn)
	n.Children = make([]*Node, 0, count)
	for i := 0; i < count; i++ {
		child := sn.Child(i)
		if child == nil {
			continue
		}
		n.Children = append(n.Children, convert(child, fields[span{child.StartByte(), child.EndByte(), child.Type()}]))
	}
	return n
}

type span struct {
	start, end uint32
	typ        string
}

// childFields maps each field-attached child of sn to its field name.
func childFields(sn *sitter.Node) map[span]string {
	fields := make(map[span]string)
	for _, name := range fieldNames {
		c := sn.ChildByFieldName(name)
		if c == nil {
			continue
		}
		key := span{c.StartByte(), c.EndByte(), c.Type()}
		if _, taken := fields[key]; !taken {
			fields[key] = name
		}
	}
	return fields
}
