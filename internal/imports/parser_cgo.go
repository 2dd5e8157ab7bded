//go:build cgo

package imports

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parser extracts module references from Python source. It is not safe for
// concurrent use.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a new tree-sitter Python parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{parser: p}
}

// IsAvailable reports whether Python parsing is compiled in.
func IsAvailable() bool {
	return true
}

// References returns the dotted module references of every import in src,
// in source order. Imports nested in functions or conditionals count too.
func (p *Parser) References(ctx context.Context, src []byte) ([]string, error) {
	src, err := Decode(src)
	if err != nil {
		return nil, err
	}
	tree, err := p.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	root := tree.RootNode()
	if err := CheckSyntax(root, src); err != nil {
		return nil, err
	}

	var refs []string
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			refs = append(refs, importNames(node, src)...)
			return
		case "import_from_statement":
			refs = append(refs, fromImportNames(node, src)...)
			return
		case "future_import_statement":
			for _, name := range importNames(node, src) {
				refs = append(refs, "__future__."+name)
			}
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
	return refs, nil
}

// importNames returns the imported dotted names of an import list, ignoring aliases.
func importNames(node *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if name := dottedName(node.NamedChild(i), src); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// fromImportNames renders "from m import x" as m.x. A relative prefix is
// dropped, so "from . import x" yields x and "from .m import x" yields m.x.
// A wildcard yields the module itself.
func fromImportNames(node *sitter.Node, src []byte) []string {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return nil
	}
	module := moduleNode.Content(src)
	if moduleNode.Type() == "relative_import" {
		module = ""
		for i := 0; i < int(moduleNode.NamedChildCount()); i++ {
			if child := moduleNode.NamedChild(i); child.Type() == "dotted_name" {
				module = child.Content(src)
			}
		}
	}

	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.StartByte() == moduleNode.StartByte() && child.EndByte() == moduleNode.EndByte() {
			continue
		}
		if child.Type() == "wildcard_import" {
			if module != "" {
				names = append(names, module)
			}
			continue
		}
		name := dottedName(child, src)
		switch {
		case name == "":
		case module == "":
			names = append(names, name)
		default:
			names = append(names, module+"."+name)
		}
	}
	return names
}

// dottedName returns the name of a dotted_name or aliased_import node.
func dottedName(node *sitter.Node, src []byte) string {
	switch node.Type() {
	case "dotted_name":
		return node.Content(src)
	case "aliased_import":
		if name := node.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
	}
	return ""
}
