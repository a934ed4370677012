package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"strconv"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// GoStrategy parses Go source with the standard library AST
type GoStrategy struct{}

// NewGoStrategy creates a Go parsing strategy
func NewGoStrategy() *GoStrategy {
	return &GoStrategy{}
}

// Language implements Strategy
func (g *GoStrategy) Language() string { return types.LangGo }

// Supports implements Strategy
func (g *GoStrategy) Supports(p string) bool {
	return strings.HasSuffix(p, ".go")
}

// Parse extracts package, import, type, function, method, const and var
// symbols plus call, import and embedding relations.
func (g *GoStrategy) Parse(filePath string, content []byte) (*types.ParseResult, error) {
	fset := token.NewFileSet()
	c := newCollector(filePath, types.LangGo)

	// Parse the file with comments for doc extraction
	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	// Without a package clause this is not Go source at all
	if file == nil || file.Name == nil || file.Name.Name == "" {
		if err == nil {
			err = fmt.Errorf("no package clause")
		}
		return nil, err
	}

	e := &goExtractor{fset: fset, file: file, c: c}
	e.extract()

	result := c.result()
	result.File.Imports = e.imports
	result.File.Exports = e.exports

	// Syntax errors are non-fatal: the partial AST still yields symbols
	if err != nil {
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}
	return result, nil
}

// goBuiltins are never worth resolving as call targets
var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
}

// goExtractor walks one file's AST
type goExtractor struct {
	fset *token.FileSet
	file *ast.File
	c    *collector

	moduleID string
	imports  []string
	exports  []string
}

func (e *goExtractor) extract() {
	pkgName := e.file.Name.Name

	e.moduleID = e.c.add(types.Symbol{
		Name:       pkgName,
		Kind:       types.KindModule,
		Location:   e.location(e.file.Package, e.file.End()),
		Signature:  "package " + pkgName,
		DocComment: e.docComment(e.file.Doc),
	})

	e.extractImports()

	for _, decl := range e.file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
}

// extractImports records import symbols and module-level import relations
func (e *goExtractor) extractImports() {
	for _, imp := range e.file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			importPath = strings.Trim(imp.Path.Value, `"`)
		}
		e.imports = append(e.imports, importPath)

		sig := "import " + imp.Path.Value
		if imp.Name != nil {
			sig = fmt.Sprintf("import %s %s", imp.Name.Name, imp.Path.Value)
		}

		e.c.add(types.Symbol{
			Name:      importPath,
			ShortName: path.Base(importPath),
			Kind:      types.KindImport,
			Location:  e.location(imp.Pos(), imp.End()),
			Signature: sig,
		})

		// Go packages are conventionally named after the last path element
		e.c.relate(e.moduleID, path.Base(importPath), types.RelationImports)
	}
}

// extractFunction extracts function and method declarations
func (e *goExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	sym := types.Symbol{
		Name:       funcDecl.Name.Name,
		ShortName:  funcDecl.Name.Name,
		DocComment: e.docComment(funcDecl.Doc),
		Location:   e.location(funcDecl.Pos(), funcDecl.End()),
		Signature:  e.functionSignature(funcDecl),
		Kind:       types.KindFunction,
	}

	// Methods are qualified by their receiver type
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = types.KindMethod
		if recv := e.receiverType(funcDecl.Recv.List[0].Type); recv != "" {
			sym.Name = recv + "." + funcDecl.Name.Name
			sym.Metadata = map[string]string{"receiver": recv}
		}
	}

	id := e.c.add(sym)
	e.noteExport(funcDecl.Name.Name, funcDecl.Recv == nil)

	if funcDecl.Body != nil {
		e.extractCalls(id, funcDecl.Body)
	}
}

// extractCalls records a pending calls relation for every call in body
func (e *goExtractor) extractCalls(callerID string, body ast.Node) {
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			if !goBuiltins[fn.Name] {
				e.c.relate(callerID, fn.Name, types.RelationCalls)
			}
		case *ast.SelectorExpr:
			e.c.relate(callerID, fn.Sel.Name, types.RelationCalls)
		case *ast.IndexExpr:
			// generic instantiation: Foo[T](x)
			if id, ok := fn.X.(*ast.Ident); ok {
				e.c.relate(callerID, id.Name, types.RelationCalls)
			}
		}
		return true
	})
}

// extractGenDecl extracts type, const, and var declarations
func (e *goExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			doc := s.Doc
			if doc == nil {
				doc = genDecl.Doc
			}
			e.extractTypeSpec(s, doc)
		case *ast.ValueSpec:
			doc := s.Doc
			if doc == nil {
				doc = genDecl.Doc
			}
			e.extractValueSpec(s, doc, genDecl.Tok)
		}
	}
}

// extractTypeSpec extracts struct, interface, and named type declarations
func (e *goExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup) {
	name := typeSpec.Name.Name
	sym := types.Symbol{
		Name:       name,
		DocComment: e.docComment(doc),
		Location:   e.location(typeSpec.Pos(), typeSpec.End()),
		Kind:       types.KindClass,
	}

	var embedded []string
	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Signature = e.structSignature(name, t)
		embedded = e.embeddedFields(t.Fields)
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		sym.Signature = e.interfaceSignature(name, t)
		embedded = e.embeddedFields(t.Methods)
	default:
		sym.Signature = fmt.Sprintf("type %s %s", name, e.exprToString(typeSpec.Type))
	}

	id := e.c.add(sym)
	e.noteExport(name, true)

	for _, base := range embedded {
		e.c.relate(id, base, types.RelationExtends)
	}

	// Extract struct fields as separate symbols
	if structType, ok := typeSpec.Type.(*ast.StructType); ok {
		e.extractStructFields(name, structType)
	}
}

// embeddedFields returns the type names of anonymous fields
func (e *goExtractor) embeddedFields(fields *ast.FieldList) []string {
	if fields == nil {
		return nil
	}
	var names []string
	for _, field := range fields.List {
		if len(field.Names) > 0 {
			continue
		}
		if n := e.receiverType(field.Type); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// extractStructFields extracts field symbols from a struct
func (e *goExtractor) extractStructFields(structName string, structType *ast.StructType) {
	if structType.Fields == nil {
		return
	}

	for _, field := range structType.Fields.List {
		for _, name := range field.Names {
			e.c.add(types.Symbol{
				Name:       structName + "." + name.Name,
				ShortName:  name.Name,
				Kind:       types.KindVariable,
				Location:   e.location(field.Pos(), field.End()),
				Signature:  fmt.Sprintf("%s %s", name.Name, e.exprToString(field.Type)),
				DocComment: e.docComment(field.Doc),
				Metadata:   map[string]string{"field_of": structName},
			})
		}
	}
}

// extractValueSpec extracts const and var declarations
func (e *goExtractor) extractValueSpec(valueSpec *ast.ValueSpec, doc *ast.CommentGroup, tok token.Token) {
	for _, name := range valueSpec.Names {
		if name.Name == "_" {
			continue
		}

		sym := types.Symbol{
			Name:       name.Name,
			Kind:       types.KindVariable,
			DocComment: e.docComment(doc),
			Location:   e.location(valueSpec.Pos(), valueSpec.End()),
			Metadata:   map[string]string{"decl": tok.String()},
		}

		// Build signature
		switch {
		case valueSpec.Type != nil:
			sym.Signature = fmt.Sprintf("%s %s %s", tok, name.Name, e.exprToString(valueSpec.Type))
		case len(valueSpec.Values) > 0:
			sym.Signature = fmt.Sprintf("%s %s = ...", tok, name.Name)
		default:
			sym.Signature = fmt.Sprintf("%s %s", tok, name.Name)
		}

		id := e.c.add(sym)
		e.noteExport(name.Name, true)

		// Package-level initializers may call functions
		for _, v := range valueSpec.Values {
			e.extractCalls(id, v)
		}
	}
}

func (e *goExtractor) noteExport(name string, topLevel bool) {
	if topLevel && token.IsExported(name) {
		e.exports = append(e.exports, name)
	}
}

// receiverType extracts the bare type name from a receiver or embedded field
func (e *goExtractor) receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return e.receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return e.receiverType(t.X)
	case *ast.IndexListExpr:
		return e.receiverType(t.X)
	}
	return ""
}

// functionSignature builds a function signature string
func (e *goExtractor) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	// Add receiver for methods
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(e.fieldListToString(funcDecl.Recv))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	// Parameters
	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(e.fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	// Results
	if funcDecl.Type.Results != nil {
		results := e.fieldListToString(funcDecl.Type.Results)
		if results != "" {
			if funcDecl.Type.Results.NumFields() > 1 || len(funcDecl.Type.Results.List[0].Names) > 0 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

func (e *goExtractor) structSignature(name string, structType *ast.StructType) string {
	fieldCount := 0
	if structType.Fields != nil {
		fieldCount = structType.Fields.NumFields()
	}
	return fmt.Sprintf("type %s struct { ... } // %d fields", name, fieldCount)
}

func (e *goExtractor) interfaceSignature(name string, interfaceType *ast.InterfaceType) string {
	methodCount := 0
	if interfaceType.Methods != nil {
		methodCount = interfaceType.Methods.NumFields()
	}
	return fmt.Sprintf("type %s interface { ... } // %d methods", name, methodCount)
}

// fieldListToString converts a field list to a string representation
func (e *goExtractor) fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := e.exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func (e *goExtractor) exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + e.exprToString(t.X)
	case *ast.ArrayType:
		if t.Len != nil {
			return "[" + e.exprToString(t.Len) + "]" + e.exprToString(t.Elt)
		}
		return "[]" + e.exprToString(t.Elt)
	case *ast.BasicLit:
		return t.Value
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", e.exprToString(t.Key), e.exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + e.exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.SelectorExpr:
		return e.exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + e.exprToString(t.Elt)
	case *ast.IndexExpr:
		return e.exprToString(t.X) + "[" + e.exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

func (e *goExtractor) docComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func (e *goExtractor) location(start, end token.Pos) types.Location {
	s := e.fset.Position(start)
	en := e.fset.Position(end)
	return types.Location{
		LineStart:   s.Line,
		LineEnd:     en.Line,
		ColumnStart: s.Column,
		ColumnEnd:   en.Column,
	}
}
