// Package parser extracts symbols and pending relations from source files.
//
// Each language is a Strategy registered in a Registry under its file
// extensions. Lookups never fail: files no strategy supports are handled by
// the generic fallback, which reports only file-level metadata.
//
// # Strategies
//
//   - Go: standard library go/ast (package, imports, functions, methods,
//     types, struct fields, consts and vars; calls and embedding)
//   - Python: tree-sitter (modules, classes, functions, methods, module and
//     class variables; calls, imports and base classes)
//   - JavaScript / TypeScript / TSX: tree-sitter (functions, arrow function
//     bindings, classes, methods, interfaces, type aliases, enums; calls,
//     imports, extends and implements)
//
// # Usage
//
//	reg := parser.DefaultRegistry()
//	result, err := reg.Parse("pkg/server.go", content)
//	for _, sym := range result.Symbols {
//	    fmt.Println(sym.ID, sym.Name, sym.Kind)
//	}
//
// Pending relations name their target rather than referencing an id; the
// indexer resolves them once every file of a pass has been persisted.
//
// Strategies keep no per-file state, so one registry may be shared by a
// pool of parsing goroutines.
package parser
