package analyzers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/debthunt/internal/syntax"
)

// ErrTrivialBody is returned for functions whose body is empty or a bare
// pass/ellipsis once the docstring is removed.
var ErrTrivialBody = errors.New("trivial function body")

// Fingerprint is the structure-only identity of a function body.
type Fingerprint struct {
	Hash       string
	Serialized string
	// Lines is the canonical line count: one per statement or clause header.
	Lines int
}

// lineNodes are the node types that occupy their own line in canonical form,
// in addition to every *_statement.
var lineNodes = map[string]bool{
	"function_definition": true,
	"class_definition":    true,
	"decorator":           true,
	"elif_clause":         true,
	"else_clause":         true,
	"except_clause":       true,
	"except_group_clause": true,
	"finally_clause":      true,
	"case_clause":         true,
}

// verbatimParents lists parents whose identifier children are structural
// names rather than variables.
var verbatimParents = map[string]bool{
	"dotted_name":    true,
	"aliased_import": true,
}

// normalizer renames identifiers to var_<n> in first-use order.
type normalizer struct {
	tree    *syntax.Tree
	mapping map[string]string
	sb      strings.Builder
	lines   int
}

func (n *normalizer) name(original string) string {
	if v, ok := n.mapping[original]; ok {
		return v
	}
	v := fmt.Sprintf("var_%d", len(n.mapping))
	n.mapping[original] = v
	return v
}

// Normalize builds the fingerprint of fn's body. Parameters are mapped
// first in declaration order, so two functions with the same arity and
// usage pattern normalize identically whatever their names. The function
// name and a leading docstring are excluded. The tree is never modified.
func Normalize(tree *syntax.Tree, fn syntax.Function) (Fingerprint, error) {
	body := fn.Body()
	if body == nil {
		return Fingerprint{}, fmt.Errorf("function %s has no body", fn.Name)
	}

	n := &normalizer{tree: tree, mapping: make(map[string]string)}
	for _, p := range ParamNames(tree, fn.Params()) {
		n.name(p)
	}

	stmts := stripDocstring(body.NamedChildren())
	stmts = dropComments(stmts)
	if isTrivial(tree, stmts) {
		return Fingerprint{}, ErrTrivialBody
	}

	for _, s := range stmts {
		if err := n.emit(s, nil); err != nil {
			return Fingerprint{}, err
		}
		n.sb.WriteByte('\n')
	}

	serialized := n.sb.String()
	sum := sha256.Sum256([]byte(serialized))
	return Fingerprint{
		Hash:       hex.EncodeToString(sum[:]),
		Serialized: serialized,
		Lines:      n.lines,
	}, nil
}

func (n *normalizer) emit(node, parent *syntax.Node) error {
	switch {
	case node.Type == "ERROR" || node.Missing:
		return fmt.Errorf("irregular node at line %d", node.StartLine)
	case node.Type == "comment":
		return nil
	}

	if strings.HasSuffix(node.Type, "_statement") || lineNodes[node.Type] {
		n.lines++
	}

	if node.Type == "identifier" {
		n.sb.WriteString(n.identifier(node, parent))
		n.sb.WriteByte(' ')
		return nil
	}

	if node.Type == "string" {
		n.emitString(node)
		return nil
	}

	if len(node.Children) == 0 {
		if node.Named {
			// Literals keep their value; "integer:1" differs from "integer:2".
			n.sb.WriteString(node.Type)
			n.sb.WriteByte(':')
			n.sb.WriteString(n.tree.Text(node))
		} else {
			n.sb.WriteString(node.Type)
		}
		n.sb.WriteByte(' ')
		return nil
	}

	n.sb.WriteString("(" + node.Type + " ")
	for _, c := range node.Children {
		if err := n.emit(c, node); err != nil {
			return err
		}
	}
	n.sb.WriteString(") ")
	return nil
}

// identifier renders an identifier, keeping structural names verbatim.
func (n *normalizer) identifier(node, parent *syntax.Node) string {
	text := n.tree.Text(node)
	if parent != nil {
		switch {
		case parent.Type == "attribute" && node.Field == "attribute":
			return "." + text
		case parent.Type == "keyword_argument" && node.Field == "name":
			return text + "="
		case (parent.Type == "function_definition" || parent.Type == "class_definition") && node.Field == "name":
			return "def:" + text
		case verbatimParents[parent.Type]:
			return text
		}
	}
	return n.name(text)
}

// emitString writes a string literal without its quote style, so 'a' and
// "a" normalize the same. Interpolations are walked normally.
func (n *normalizer) emitString(node *syntax.Node) {
	n.sb.WriteString("(string ")
	for _, c := range node.Children {
		switch c.Type {
		case "string_start":
			prefix := strings.ToLower(strings.Trim(n.tree.Text(c), `"'`))
			if prefix != "" {
				n.sb.WriteString(prefix + ": ")
			}
		case "string_end":
		case "string_content", "escape_sequence":
			n.sb.WriteString(fmt.Sprintf("%q ", n.tree.Text(c)))
		default:
			_ = n.emit(c, node)
		}
	}
	n.sb.WriteString(") ")
}

// ParamNames returns parameter names in declaration order.
func ParamNames(tree *syntax.Tree, params *syntax.Node) []string {
	if params == nil {
		return nil
	}
	var names []string
	for _, p := range params.NamedChildren() {
		if id := paramIdentifier(p); id != nil {
			names = append(names, tree.Text(id))
		}
	}
	return names
}

// paramIdentifier returns the identifier node naming parameter p, or nil
// for separators such as * and /.
func paramIdentifier(p *syntax.Node) *syntax.Node {
	switch p.Type {
	case "identifier":
		return p
	case "default_parameter", "typed_default_parameter":
		if name := p.ChildByField("name"); name != nil && name.Type == "identifier" {
			return name
		}
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		for _, c := range p.NamedChildren() {
			if c.Type == "identifier" {
				return c
			}
			if c.Type == "list_splat_pattern" || c.Type == "dictionary_splat_pattern" {
				return paramIdentifier(c)
			}
		}
	}
	return nil
}

func stripDocstring(stmts []*syntax.Node) []*syntax.Node {
	for i, s := range stmts {
		if s.Type == "comment" {
			continue
		}
		if isDocstring(s) {
			return append(append([]*syntax.Node{}, stmts[:i]...), stmts[i+1:]...)
		}
		break
	}
	return stmts
}

func isDocstring(s *syntax.Node) bool {
	if s.Type != "expression_statement" {
		return false
	}
	named := s.NamedChildren()
	return len(named) == 1 && (named[0].Type == "string" || named[0].Type == "concatenated_string")
}

func dropComments(stmts []*syntax.Node) []*syntax.Node {
	out := stmts[:0:0]
	for _, s := range stmts {
		if s.Type != "comment" {
			out = append(out, s)
		}
	}
	return out
}

func isTrivial(tree *syntax.Tree, stmts []*syntax.Node) bool {
	if len(stmts) == 0 {
		return true
	}
	if len(stmts) > 1 {
		return false
	}
	s := stmts[0]
	if s.Type == "pass_statement" {
		return true
	}
	return s.Type == "expression_statement" && strings.TrimSpace(tree.Text(s)) == "..."
}
