//go:build cgo

package imports

import (
	"bytes"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// legacyStatements are statement nodes the grammar keeps for Python 2 only.
var legacyStatements = map[string]bool{
	"print_statement": true,
	"exec_statement":  true,
}

// CheckSyntax returns ErrUnusable when the tree rooted at root has parse
// errors or uses syntax that Python 3 rejects. The grammar still accepts
// print and exec statements, "except E, e" clauses, the <> operator,
// backtick repr, leading-zero octals and L-suffixed longs.
func CheckSyntax(root *sitter.Node, src []byte) error {
	if root.HasError() {
		return ErrUnusable
	}
	var quoted [][2]uint32
	legacy := false
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if legacy {
			return
		}
		switch node.Type() {
		case "string", "comment":
			quoted = append(quoted, [2]uint32{node.StartByte(), node.EndByte()})
			return
		case "except_clause":
			legacy = hasChild(node, ",", "expression_list")
		case "comparison_operator":
			legacy = hasChild(node, "<>")
		case "integer":
			legacy = isLegacyInteger(node.Content(src))
		default:
			legacy = legacyStatements[node.Type()]
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	if legacy || hasBareBacktick(src, quoted) {
		return ErrUnusable
	}
	return nil
}

// hasChild reports whether any direct child of node has one of the types.
func hasChild(node *sitter.Node, types ...string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		childType := node.Child(i).Type()
		for _, t := range types {
			if childType == t {
				return true
			}
		}
	}
	return false
}

// isLegacyInteger matches 0777 style octals and 10L style longs.
func isLegacyInteger(text string) bool {
	text = strings.ReplaceAll(text, "_", "")
	if strings.HasSuffix(text, "l") || strings.HasSuffix(text, "L") {
		return true
	}
	if len(text) < 2 || text[0] != '0' {
		return false
	}
	for _, c := range text[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return strings.Trim(text, "0") != ""
}

// hasBareBacktick reports a backtick outside every string and comment range.
// The grammar has no backtick token, so it never shows up as a node.
func hasBareBacktick(src []byte, quoted [][2]uint32) bool {
	offset := 0
	for {
		i := bytes.IndexByte(src[offset:], '`')
		if i < 0 {
			return false
		}
		pos := uint32(offset + i)
		inside := false
		for _, r := range quoted {
			if pos >= r[0] && pos < r[1] {
				inside = true
				break
			}
		}
		if !inside {
			return true
		}
		offset += i + 1
	}
}
