package parser

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/codeindex/pkg/types"
)

const ecmaCallQuery = `
(call_expression function: (identifier) @callee)
(call_expression function: (member_expression property: (property_identifier) @callee))
(new_expression constructor: (identifier) @callee)
`

var ecmaBuiltins = map[string]bool{
	"require": true, "log": true, "push": true, "map": true, "filter": true,
	"forEach": true, "then": true, "catch": true, "Error": true, "Promise": true,
	"parseInt": true, "String": true, "Number": true, "Boolean": true,
	"setTimeout": true, "JSON": true, "stringify": true, "parse": true,
}

// EcmaStrategy parses JavaScript and TypeScript with tree-sitter. One
// instance serves one grammar.
type EcmaStrategy struct {
	language string
	exts     []string
	lang     *sitter.Language
	calls    *lazyQuery
}

func newEcmaStrategy(language string, lang *sitter.Language, exts ...string) *EcmaStrategy {
	return &EcmaStrategy{
		language: language,
		exts:     exts,
		lang:     lang,
		calls:    &lazyQuery{src: ecmaCallQuery, lang: lang},
	}
}

// NewJavaScriptStrategy creates a JavaScript parsing strategy
func NewJavaScriptStrategy() *EcmaStrategy {
	return newEcmaStrategy(types.LangJavaScript, javascript.GetLanguage(), ".js", ".jsx", ".mjs", ".cjs")
}

// NewTypeScriptStrategy creates a TypeScript parsing strategy
func NewTypeScriptStrategy() *EcmaStrategy {
	return newEcmaStrategy(types.LangTypeScript, typescript.GetLanguage(), ".ts", ".mts", ".cts")
}

// NewTSXStrategy creates a TSX parsing strategy
func NewTSXStrategy() *EcmaStrategy {
	return newEcmaStrategy(types.LangTypeScript, tsx.GetLanguage(), ".tsx")
}

// Language implements Strategy
func (s *EcmaStrategy) Language() string { return s.language }

// Supports implements Strategy
func (s *EcmaStrategy) Supports(p string) bool {
	for _, ext := range s.exts {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// Parse implements Strategy
func (s *EcmaStrategy) Parse(filePath string, content []byte) (*types.ParseResult, error) {
	tree, err := parseTree(s.lang, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	c := newCollector(filePath, s.language)
	mod := moduleName(filePath)
	w := &ecmaWalker{src: content, c: c, path: filePath}
	w.moduleID = c.add(types.Symbol{
		Name:      mod,
		Kind:      types.KindModule,
		Location:  nodeLocation(root),
		Signature: "module " + mod,
	})

	w.walkStatements(root, "", scopeModule)

	q, err := s.calls.get()
	if err != nil {
		return nil, err
	}
	collectCalls(q, root, content, w.spans.sorted(), w.moduleID, ecmaBuiltins, c)

	result := c.result()
	result.File.Imports = w.imports
	result.File.Exports = w.exports
	if root.HasError() {
		result.AddError(filePath, 0, 0, "syntax error in source")
	}
	return result, nil
}

type ecmaWalker struct {
	src      []byte
	c        *collector
	path     string
	moduleID string

	spans   spanIndex
	imports []string
	exports []string
}

func (w *ecmaWalker) walkStatements(block *sitter.Node, scope string, kind scopeKind) {
	if block == nil {
		return
	}
	for i := 0; i < int(block.NamedChildCount()); i++ {
		n := block.NamedChild(i)
		switch n.Type() {
		case "export_statement":
			if decl := n.ChildByFieldName("declaration"); decl != nil {
				w.declaration(decl, n, scope, kind, true)
			}
		case "import_statement":
			w.importStmt(n)
		default:
			w.declaration(n, n, scope, kind, false)
		}
	}
}

// declaration handles one declaration node; docNode is the node a leading
// JSDoc comment would precede (the export wrapper when present).
func (w *ecmaWalker) declaration(n, docNode *sitter.Node, scope string, kind scopeKind, exported bool) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		name := nodeText(n.ChildByFieldName("name"), w.src)
		sig := "function " + name + nodeText(n.ChildByFieldName("parameters"), w.src) +
			nodeText(n.ChildByFieldName("return_type"), w.src)
		w.function(n, docNode, scope, name, sig, types.KindFunction, exported)

	case "class_declaration", "abstract_class_declaration":
		w.class(n, docNode, scope, exported)

	case "interface_declaration":
		name := nodeText(n.ChildByFieldName("name"), w.src)
		if name == "" {
			return
		}
		id := w.c.add(types.Symbol{
			Name:       qualify(scope, name),
			ShortName:  name,
			Kind:       types.KindInterface,
			Location:   nodeLocation(n),
			Signature:  firstLine(nodeText(n, w.src)),
			DocComment: w.jsdoc(docNode),
		})
		w.export(name, exported)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if child := n.NamedChild(i); child.Type() == "extends_type_clause" || child.Type() == "extends_clause" {
				w.typeRefs(id, child, types.RelationExtends)
			}
		}

	case "type_alias_declaration", "enum_declaration":
		name := nodeText(n.ChildByFieldName("name"), w.src)
		if name == "" {
			return
		}
		w.c.add(types.Symbol{
			Name:       qualify(scope, name),
			ShortName:  name,
			Kind:       types.KindClass,
			Location:   nodeLocation(n),
			Signature:  firstLine(nodeText(n, w.src)),
			DocComment: w.jsdoc(docNode),
		})
		w.export(name, exported)

	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			decl := n.NamedChild(i)
			if decl.Type() == "variable_declarator" {
				w.declarator(decl, n, docNode, scope, kind, exported)
			}
		}
	}
}

func (w *ecmaWalker) declarator(decl, stmt, docNode *sitter.Node, scope string, kind scopeKind, exported bool) {
	nameNode := decl.ChildByFieldName("name")
	if nameNode == nil || nameNode.Type() != "identifier" {
		return
	}
	name := nodeText(nameNode, w.src)
	value := decl.ChildByFieldName("value")

	if value != nil {
		switch value.Type() {
		case "arrow_function", "function", "function_expression", "generator_function":
			params := value.ChildByFieldName("parameters")
			if params == nil {
				params = value.ChildByFieldName("parameter")
			}
			sig := "const " + name + " = " + nodeText(params, w.src) +
				nodeText(value.ChildByFieldName("return_type"), w.src) + " =>"
			w.function(value, docNode, scope, name, sig, types.KindFunction, exported)
			return
		}
	}

	// Only module level values are worth indexing as variables
	if kind != scopeModule {
		return
	}
	w.c.add(types.Symbol{
		Name:       qualify(scope, name),
		ShortName:  name,
		Kind:       types.KindVariable,
		Location:   nodeLocation(decl),
		Signature:  firstLine(nodeText(stmt, w.src)),
		DocComment: w.jsdoc(docNode),
	})
	w.export(name, exported)
}

// function records a function-like node; span covers n so calls in its body attach to it
func (w *ecmaWalker) function(n, docNode *sitter.Node, scope, name, sig string, kind types.SymbolKind, exported bool) {
	if name == "" {
		return
	}
	qualified := qualify(scope, name)
	id := w.c.add(types.Symbol{
		Name:       qualified,
		ShortName:  name,
		Kind:       kind,
		Location:   nodeLocation(n),
		Signature:  sig,
		DocComment: w.jsdoc(docNode),
	})
	w.spans = append(w.spans, span{start: n.StartByte(), end: n.EndByte(), id: id})
	if kind == types.KindFunction {
		w.export(name, exported)
	}

	if body := n.ChildByFieldName("body"); body != nil && body.Type() == "statement_block" {
		w.walkStatements(body, qualified, scopeFunction)
	}
}

func (w *ecmaWalker) class(n, docNode *sitter.Node, scope string, exported bool) {
	name := nodeText(n.ChildByFieldName("name"), w.src)
	if name == "" {
		return
	}
	qualified := qualify(scope, name)

	sig := "class " + name
	var heritage *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "class_heritage" {
			heritage = child
			sig += " " + nodeText(child, w.src)
		}
	}

	id := w.c.add(types.Symbol{
		Name:       qualified,
		ShortName:  name,
		Kind:       types.KindClass,
		Location:   nodeLocation(n),
		Signature:  firstLine(sig),
		DocComment: w.jsdoc(docNode),
	})
	w.spans = append(w.spans, span{start: n.StartByte(), end: n.EndByte(), id: id})
	w.export(name, exported)

	if heritage != nil {
		for i := 0; i < int(heritage.NamedChildCount()); i++ {
			clause := heritage.NamedChild(i)
			switch clause.Type() {
			case "extends_clause":
				w.typeRefs(id, clause, types.RelationExtends)
			case "implements_clause":
				w.typeRefs(id, clause, types.RelationImplements)
			case "identifier", "member_expression":
				// JavaScript grammar puts the base expression directly under class_heritage
				w.c.relate(id, nodeText(clause, w.src), types.RelationExtends)
			}
		}
	}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		mname := nodeText(member.ChildByFieldName("name"), w.src)
		msig := mname + nodeText(member.ChildByFieldName("parameters"), w.src) +
			nodeText(member.ChildByFieldName("return_type"), w.src)
		w.function(member, member, qualified, mname, msig, types.KindMethod, false)
	}
}

// typeRefs relates id to every type named in a heritage clause
func (w *ecmaWalker) typeRefs(id string, clause *sitter.Node, rt types.RelationType) {
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		ref := clause.NamedChild(i)
		switch ref.Type() {
		case "identifier", "type_identifier", "member_expression", "nested_type_identifier":
			w.c.relate(id, nodeText(ref, w.src), rt)
		case "generic_type":
			name := nodeText(ref, w.src)
			if j := strings.IndexByte(name, '<'); j > 0 {
				name = name[:j]
			}
			w.c.relate(id, name, rt)
		}
	}
}

func (w *ecmaWalker) importStmt(n *sitter.Node) {
	source := strings.Trim(nodeText(n.ChildByFieldName("source"), w.src), "\"'`")
	if source == "" {
		return
	}
	w.imports = append(w.imports, source)
	w.c.add(types.Symbol{
		Name:      source,
		ShortName: path.Base(source),
		Kind:      types.KindImport,
		Location:  nodeLocation(n),
		Signature: firstLine(nodeText(n, w.src)),
	})

	target := source
	if strings.HasPrefix(source, ".") {
		target = moduleName(path.Join(path.Dir(w.path), source))
	}
	w.c.relate(w.moduleID, target, types.RelationImports)
}

func (w *ecmaWalker) export(name string, exported bool) {
	if exported {
		w.exports = append(w.exports, name)
	}
}

// jsdoc returns the /** */ comment directly above n
func (w *ecmaWalker) jsdoc(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	prev := n.PrevNamedSibling()
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	if prev.EndPoint().Row+1 < n.StartPoint().Row {
		return ""
	}
	text := nodeText(prev, w.src)
	if !strings.HasPrefix(text, "/**") {
		return ""
	}
	text = strings.TrimSuffix(strings.TrimPrefix(text, "/**"), "*/")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
