package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/codeindex/pkg/types"
)

const pythonCallQuery = `
(call function: (identifier) @callee)
(call function: (attribute attribute: (identifier) @callee))
`

var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "range": true, "str": true, "int": true,
	"float": true, "bool": true, "list": true, "dict": true, "set": true,
	"tuple": true, "isinstance": true, "issubclass": true, "super": true,
	"getattr": true, "setattr": true, "hasattr": true, "enumerate": true,
	"zip": true, "map": true, "filter": true, "sorted": true, "open": true,
	"repr": true, "type": true, "min": true, "max": true, "sum": true,
	"any": true, "all": true, "iter": true, "next": true,
}

// PythonStrategy parses Python source with tree-sitter
type PythonStrategy struct {
	lang  *sitter.Language
	calls *lazyQuery
}

// NewPythonStrategy creates a Python parsing strategy
func NewPythonStrategy() *PythonStrategy {
	lang := python.GetLanguage()
	return &PythonStrategy{
		lang:  lang,
		calls: &lazyQuery{src: pythonCallQuery, lang: lang},
	}
}

// Language implements Strategy
func (p *PythonStrategy) Language() string { return types.LangPython }

// Supports implements Strategy
func (p *PythonStrategy) Supports(path string) bool {
	return strings.HasSuffix(path, ".py") || strings.HasSuffix(path, ".pyi")
}

// Parse implements Strategy
func (p *PythonStrategy) Parse(path string, content []byte) (*types.ParseResult, error) {
	tree, err := parseTree(p.lang, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	c := newCollector(path, types.LangPython)
	mod := moduleName(path)
	w := &pyWalker{src: content, c: c, module: mod}
	w.moduleID = c.add(types.Symbol{
		Name:       mod,
		Kind:       types.KindModule,
		Location:   nodeLocation(root),
		Signature:  "module " + mod,
		DocComment: w.docstring(root),
	})

	w.walkBlock(root, "", scopeModule)

	q, err := p.calls.get()
	if err != nil {
		return nil, err
	}
	collectCalls(q, root, content, w.spans.sorted(), w.moduleID, pythonBuiltins, c)

	result := c.result()
	result.File.Imports = w.imports
	result.File.Exports = w.exports
	if root.HasError() {
		result.AddError(path, 0, 0, "syntax error in source")
	}
	return result, nil
}

type scopeKind int

const (
	scopeModule scopeKind = iota
	scopeClass
	scopeFunction
)

type pyWalker struct {
	src      []byte
	c        *collector
	module   string
	moduleID string

	spans   spanIndex
	imports []string
	exports []string
}

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

func (w *pyWalker) walkBlock(block *sitter.Node, scope string, kind scopeKind) {
	if block == nil {
		return
	}
	for i := 0; i < int(block.NamedChildCount()); i++ {
		w.walkStmt(block.NamedChild(i), scope, kind, nil)
	}
}

func (w *pyWalker) walkStmt(n *sitter.Node, scope string, kind scopeKind, outer *sitter.Node) {
	switch n.Type() {
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			w.walkStmt(def, scope, kind, n)
		}
	case "function_definition":
		w.function(n, scope, kind, outer)
	case "class_definition":
		w.class(n, scope, outer)
	case "expression_statement":
		if kind != scopeFunction {
			w.assignment(n, scope)
		}
	case "import_statement", "import_from_statement":
		w.importStmt(n)
	case "if_statement", "try_statement", "with_statement", "else_clause",
		"elif_clause", "except_clause", "finally_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "block" {
				w.walkBlock(child, scope, kind)
			} else if strings.HasSuffix(child.Type(), "_clause") {
				w.walkStmt(child, scope, kind, nil)
			}
		}
	}
}

func (w *pyWalker) function(n *sitter.Node, scope string, kind scopeKind, outer *sitter.Node) {
	name := nodeText(n.ChildByFieldName("name"), w.src)
	if name == "" {
		return
	}

	var sig strings.Builder
	if n.ChildCount() > 0 && n.Child(0).Type() == "async" {
		sig.WriteString("async ")
	}
	sig.WriteString("def ")
	sig.WriteString(name)
	sig.WriteString(nodeText(n.ChildByFieldName("parameters"), w.src))
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		sig.WriteString(" -> ")
		sig.WriteString(nodeText(rt, w.src))
	}

	symKind := types.KindFunction
	if kind == scopeClass {
		symKind = types.KindMethod
	}

	body := n.ChildByFieldName("body")
	spanNode := n
	if outer != nil {
		spanNode = outer
	}

	qualified := qualify(scope, name)
	id := w.c.add(types.Symbol{
		Name:       qualified,
		ShortName:  name,
		Kind:       symKind,
		Location:   nodeLocation(spanNode),
		Signature:  sig.String(),
		DocComment: w.docstring(body),
	})
	w.spans = append(w.spans, span{start: spanNode.StartByte(), end: spanNode.EndByte(), id: id})

	if kind == scopeModule && !strings.HasPrefix(name, "_") {
		w.exports = append(w.exports, name)
	}

	w.walkBlock(body, qualified, scopeFunction)
}

func (w *pyWalker) class(n *sitter.Node, scope string, outer *sitter.Node) {
	name := nodeText(n.ChildByFieldName("name"), w.src)
	if name == "" {
		return
	}

	bases := n.ChildByFieldName("superclasses")
	sig := "class " + name + nodeText(bases, w.src)

	spanNode := n
	if outer != nil {
		spanNode = outer
	}

	body := n.ChildByFieldName("body")
	qualified := qualify(scope, name)
	id := w.c.add(types.Symbol{
		Name:       qualified,
		ShortName:  name,
		Kind:       types.KindClass,
		Location:   nodeLocation(spanNode),
		Signature:  sig,
		DocComment: w.docstring(body),
	})
	w.spans = append(w.spans, span{start: spanNode.StartByte(), end: spanNode.EndByte(), id: id})

	if scope == "" && !strings.HasPrefix(name, "_") {
		w.exports = append(w.exports, name)
	}

	if bases != nil {
		for i := 0; i < int(bases.NamedChildCount()); i++ {
			base := bases.NamedChild(i)
			switch base.Type() {
			case "identifier", "attribute":
				w.c.relate(id, nodeText(base, w.src), types.RelationExtends)
			}
		}
	}

	w.walkBlock(body, qualified, scopeClass)
}

// assignment records module and class level variables
func (w *pyWalker) assignment(n *sitter.Node, scope string) {
	if n.NamedChildCount() == 0 {
		return
	}
	assign := n.NamedChild(0)
	if assign.Type() != "assignment" {
		return
	}
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}

	name := nodeText(left, w.src)
	w.c.add(types.Symbol{
		Name:      qualify(scope, name),
		ShortName: name,
		Kind:      types.KindVariable,
		Location:  nodeLocation(n),
		Signature: firstLine(nodeText(n, w.src)),
	})
	if scope == "" && !strings.HasPrefix(name, "_") {
		w.exports = append(w.exports, name)
	}
}

func (w *pyWalker) importStmt(n *sitter.Node) {
	var modules []string
	if n.Type() == "import_from_statement" {
		if mod := n.ChildByFieldName("module_name"); mod != nil {
			modules = append(modules, w.absolute(nodeText(mod, w.src)))
		}
	} else {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				modules = append(modules, nodeText(child, w.src))
			case "aliased_import":
				modules = append(modules, nodeText(child.ChildByFieldName("name"), w.src))
			}
		}
	}

	for _, mod := range modules {
		if mod == "" {
			continue
		}
		w.imports = append(w.imports, mod)
		w.c.add(types.Symbol{
			Name:      mod,
			Kind:      types.KindImport,
			Location:  nodeLocation(n),
			Signature: firstLine(nodeText(n, w.src)),
		})
		w.c.relate(w.moduleID, mod, types.RelationImports)
	}
}

// absolute resolves a relative import (".x", "..y") against the current module
func (w *pyWalker) absolute(mod string) string {
	if !strings.HasPrefix(mod, ".") {
		return mod
	}
	dots := len(mod) - len(strings.TrimLeft(mod, "."))
	rest := mod[dots:]

	parts := strings.Split(w.module, ".")
	if dots > len(parts) {
		return rest
	}
	base := parts[:len(parts)-dots]
	if rest != "" {
		base = append(append([]string{}, base...), rest)
	}
	return strings.Join(base, ".")
}

// docstring returns the leading string literal of a block
func (w *pyWalker) docstring(block *sitter.Node) string {
	if block == nil || block.NamedChildCount() == 0 {
		return ""
	}
	first := block.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return cleanDocstring(nodeText(str, w.src))
}

func cleanDocstring(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			s = s[len(q) : len(s)-len(q)]
			break
		}
	}
	return strings.TrimSpace(s)
}
