//go:build cgo

package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/huangsam/tsmine/internal/imports"
	"github.com/huangsam/tsmine/schema"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// treeSitterVersion changes whenever a metric definition below changes.
const treeSitterVersion = "tree-sitter-python/2"

// decisionTypes are the Python nodes that add one path to a block.
var decisionTypes = map[string]struct{}{
	"if_statement":             {},
	"elif_clause":              {},
	"for_statement":            {},
	"while_statement":          {},
	"except_clause":            {},
	"with_statement":           {},
	"boolean_operator":         {}, // and, or
	"conditional_expression":   {}, // ternary
	"list_comprehension":       {},
	"dictionary_comprehension": {},
	"set_comprehension":        {},
	"generator_expression":     {},
}

// clauseTypes are logical lines that do not end in _statement.
var clauseTypes = map[string]struct{}{
	"function_definition": {},
	"class_definition":    {},
	"elif_clause":         {},
	"else_clause":         {},
	"except_clause":       {},
	"finally_clause":      {},
}

// TreeSitter extracts metrics from a tree-sitter Python syntax tree. It is
// safe for concurrent use.
type TreeSitter struct {
	parsers sync.Pool
}

var _ Extractor = &TreeSitter{} // Compile-time check

// NewTreeSitter creates the tree-sitter extractor.
func NewTreeSitter() *TreeSitter {
	return &TreeSitter{parsers: sync.Pool{New: func() any {
		p := sitter.NewParser()
		p.SetLanguage(python.GetLanguage())
		return p
	}}}
}

// IsAvailable reports whether metrics extraction is compiled in.
func IsAvailable() bool {
	return true
}

// Version implements Extractor.
func (t *TreeSitter) Version() string {
	return treeSitterVersion
}

// Extract implements Extractor.
func (t *TreeSitter) Extract(ctx context.Context, path string, src []byte) (schema.Metrics, error) {
	text, err := imports.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnusable, path, err)
	}

	parser := t.parsers.Get().(*sitter.Parser)
	tree, err := parser.ParseCtx(ctx, nil, text)
	t.parsers.Put(parser)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	root := tree.RootNode()
	if err := imports.CheckSyntax(root, text); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid Python 3", ErrUnusable, path)
	}

	raw := countRaw(root, text)
	cc := newComplexityWalker()
	total := cc.module(root)
	h := countHalstead(root, text)

	m := schema.Metrics{
		schema.MetricLOC:        float64(raw.loc),
		schema.MetricLLOC:       float64(raw.lloc),
		schema.MetricSLOC:       float64(raw.sloc),
		schema.MetricComments:   float64(raw.comments),
		schema.MetricBlanks:     float64(raw.blanks),
		schema.MetricCCAvg:      cc.mean(),
		schema.MetricCCMax:      cc.peak(),
		schema.MetricDefCount:   float64(CountPrefixedLines(string(text), "def ")),
		schema.MetricClassCount: float64(CountPrefixedLines(string(text), "class ")),
	}
	h.Set(m)
	m[schema.MetricMaintainability] = MaintainabilityIndex(h.Volume(), float64(total), float64(raw.lloc), raw.commentPercent(true))
	m[schema.MetricMIRaw] = MaintainabilityIndex(h.Volume(), float64(total), float64(raw.lloc), raw.commentPercent(false))
	return m, nil
}

// rawCounts are the line classes of a file. Every line is exactly one of
// sloc, multi, single comment or blank.
type rawCounts struct {
	loc, lloc, sloc int
	comments        int // Lines holding any comment, including trailing ones
	single          int // Lines holding only a comment
	multi           int // Lines of multi-line string statements
	blanks          int
}

// commentPercent is the comment share of source lines used by the
// maintainability index. withMulti credits docstring lines as comments.
func (r rawCounts) commentPercent(withMulti bool) float64 {
	if r.sloc == 0 {
		return 0
	}
	lines := r.comments
	if withMulti {
		lines += r.multi
	}
	return float64(lines) / float64(r.sloc) * 100
}

func countRaw(root *sitter.Node, src []byte) rawCounts {
	lines := strings.Split(string(src), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	commentRows := make(map[int]bool)
	multiRows := make(map[int]bool)
	var counts rawCounts
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		typ := n.Type()
		switch {
		case typ == "comment":
			commentRows[int(n.StartPoint().Row)] = true
		case typ == "expression_statement" && n.NamedChildCount() == 1 && n.NamedChild(0).Type() == "string":
			start, end := int(n.StartPoint().Row), int(n.EndPoint().Row)
			if end > start {
				for row := start; row <= end; row++ {
					multiRows[row] = true
				}
			}
		}
		if _, ok := clauseTypes[typ]; ok || strings.HasSuffix(typ, "_statement") {
			counts.lloc++
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	counts.loc = len(lines)
	counts.comments = len(commentRows)
	for row, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case multiRows[row]:
			counts.multi++
		case trimmed == "":
			counts.blanks++
		case commentRows[row] && strings.HasPrefix(trimmed, "#"):
			counts.single++
		default:
			counts.sloc++
		}
	}
	return counts
}

// complexityWalker collects the cyclomatic complexity of every function,
// method and class block.
type complexityWalker struct {
	blocks []int
}

func newComplexityWalker() *complexityWalker {
	return &complexityWalker{}
}

// module returns the total complexity of the file: decisions at module level
// plus the complexity of every top-level definition.
func (w *complexityWalker) module(root *sitter.Node) int {
	decisions, defs := scope(root)
	total := decisions
	for _, def := range defs {
		total += w.definition(def)
	}
	return total
}

func (w *complexityWalker) definition(n *sitter.Node) int {
	if n.Type() == "class_definition" {
		return w.class(n)
	}
	return w.function(n)
}

// function records 1 + the decisions of its own body. Nested definitions are
// separate blocks and do not add to the enclosing function.
func (w *complexityWalker) function(n *sitter.Node) int {
	decisions, defs := scope(n)
	cc := 1 + decisions
	w.blocks = append(w.blocks, cc)
	for _, def := range defs {
		w.definition(def)
	}
	return cc
}

// class records the mean method complexity, plus one when there is more than
// one method, and returns the summed complexity of the class body.
func (w *complexityWalker) class(n *sitter.Node) int {
	decisions, defs := scope(n)
	body := 1 + decisions
	methods := 0
	for _, def := range defs {
		body += w.definition(def)
		if def.Type() == "function_definition" {
			methods++
		}
	}
	cc := body
	if methods > 0 {
		cc = body / methods
		if methods > 1 {
			cc++
		}
	}
	w.blocks = append(w.blocks, cc)
	return body
}

func (w *complexityWalker) mean() float64 {
	if len(w.blocks) == 0 {
		return 0
	}
	sum := 0
	for _, cc := range w.blocks {
		sum += cc
	}
	return float64(sum) / float64(len(w.blocks))
}

func (w *complexityWalker) peak() float64 {
	best := 0
	for _, cc := range w.blocks {
		best = max(best, cc)
	}
	return float64(best)
}

// scope counts the decision nodes below n and returns the definitions found
// there without descending into them.
func scope(n *sitter.Node) (int, []*sitter.Node) {
	decisions := 0
	var defs []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "function_definition", "class_definition":
				defs = append(defs, child)
				continue
			}
			if _, ok := decisionTypes[child.Type()]; ok {
				decisions++
			}
			walk(child)
		}
	}
	walk(n)
	return decisions, defs
}

// countHalstead counts operators and operands of arithmetic, boolean,
// comparison, unary and augmented assignment expressions.
func countHalstead(root *sitter.Node, src []byte) Halstead {
	operators := make(map[string]struct{})
	operands := make(map[string]struct{})
	var h Halstead

	addOperator := func(op *sitter.Node) {
		if op == nil {
			return
		}
		operators[op.Type()] = struct{}{}
		h.N1++
	}
	addOperand := func(n *sitter.Node) {
		if n == nil {
			return
		}
		operands[n.Content(src)] = struct{}{}
		h.N2++
	}

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "binary_operator", "boolean_operator", "augmented_assignment":
			addOperator(n.ChildByFieldName("operator"))
			addOperand(n.ChildByFieldName("left"))
			addOperand(n.ChildByFieldName("right"))
		case "unary_operator", "not_operator":
			if op := n.ChildByFieldName("operator"); op != nil {
				addOperator(op)
			} else {
				addOperator(n.Child(0))
			}
			addOperand(n.ChildByFieldName("argument"))
		case "comparison_operator":
			for i := 0; i < int(n.ChildCount()); i++ {
				child := n.Child(i)
				if child.IsNamed() {
					addOperand(child)
				} else {
					addOperator(child)
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)

	h.H1 = len(operators)
	h.H2 = len(operands)
	return h
}
