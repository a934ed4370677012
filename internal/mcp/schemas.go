package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeindex/internal/engine"
)

var readOnly = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func limitProperty(def int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of results to return",
		"default":     def,
		"minimum":     1,
	}
}

var symbolTypes = []string{"function", "method", "class", "interface", "variable", "module", "import"}

// initTool returns the tool definition for init
func initTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbInit,
		Description: "Build the code index for the project with a full scan. Fails with ALREADY_INITIALIZED if an index exists unless force is set.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Discard the existing index and rebuild it from scratch",
					"default":     false,
				},
				"embed": map[string]interface{}{
					"type":        "boolean",
					"description": "Also generate embeddings for semantic search",
					"default":     false,
				},
			},
		},
	}
}

// updateTool returns the tool definition for update
func updateTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbUpdate,
		Description: "Incrementally re-index files that changed since the last pass",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"full": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-parse every file, ignoring content fingerprints",
					"default":     false,
				},
				"embed": map[string]interface{}{
					"type":        "boolean",
					"description": "Refresh embeddings of changed symbols",
					"default":     false,
				},
			},
		},
	}
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbSearch,
		Description: "Search raw file contents for text or a regular expression. Works before the project is indexed.",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Text to find; a regular expression when regex is true",
				},
				"path_filter": map[string]interface{}{
					"type":        "string",
					"description": "Glob over project-relative paths (e.g. 'internal/**' or '*.py')",
				},
				"regex": map[string]interface{}{
					"type":        "boolean",
					"description": "Treat query as a regular expression",
					"default":     false,
				},
				"ignore_case": map[string]interface{}{
					"type":    "boolean",
					"default": false,
				},
				"context_lines": map[string]interface{}{
					"type":        "integer",
					"description": "Lines of context before and after each match (0-10)",
					"minimum":     0,
					"maximum":     10,
				},
				"limit": limitProperty(50),
			},
			Required: []string{"query"},
		},
	}
}

// findTool returns the tool definition for find
func findTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbFind,
		Description: "List project files whose path matches a glob. Works before the project is indexed.",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob such as '**/*_test.go' or 'src/{api,web}/**'; a bare '*.py' matches at any depth",
				},
				"limit": limitProperty(50),
			},
			Required: []string{"pattern"},
		},
	}
}

// symbolTool returns the tool definition for symbol
func symbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbSymbol,
		Description: "Look up functions, classes, methods and other symbols by name in the index",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Symbol name, qualified ('Server.Start') or short ('Start')",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "exact matches the name; fuzzy ranks similar names",
					"enum":        []string{"exact", "fuzzy"},
					"default":     "exact",
				},
				"type": map[string]interface{}{
					"type":        "array",
					"description": "Only return symbols of these kinds",
					"items": map[string]interface{}{
						"type": "string",
						"enum": symbolTypes,
					},
				},
				"include_relations": map[string]interface{}{
					"type":        "boolean",
					"description": "Attach incoming and outgoing relations to each symbol",
					"default":     false,
				},
				"limit": limitProperty(50),
			},
			Required: []string{"name"},
		},
	}
}

// inspectTool returns the tool definition for inspect
func inspectTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbInspect,
		Description: "Show everything the index knows about a file (record and symbols) or a symbol (detail and relations)",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"target": map[string]interface{}{
					"type":        "string",
					"description": "Project-relative file path, symbol id or exact symbol name",
				},
			},
			Required: []string{"target"},
		},
	}
}

// graphTool returns the tool definition for graph
func graphTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbGraph,
		Description: "Walk call, import and inheritance relations from a symbol",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"symbol": map[string]interface{}{
					"type":        "string",
					"description": "Symbol id or exact name to start from",
				},
				"depth": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of hops (1-10)",
					"default":     1,
					"minimum":     1,
					"maximum":     10,
				},
				"direction": map[string]interface{}{
					"type":    "string",
					"enum":    []string{"callers", "callees", "both"},
					"default": "callees",
				},
				"types": map[string]interface{}{
					"type":        "array",
					"description": "Relation types to follow; all when omitted",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"calls", "imports", "extends", "implements"},
					},
				},
			},
			Required: []string{"symbol"},
		},
	}
}

// semanticTool returns the tool definition for semantic
func semanticTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbSemantic,
		Description: "Find symbols by meaning using embeddings. Fails with SEMANTIC_UNAVAILABLE until embeddings are generated (init or update with embed).",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language description of the code to find",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "vector ranks by embedding similarity; hybrid fuses it with name search",
					"enum":        []string{"vector", "hybrid"},
					"default":     "vector",
				},
				"type": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
						"enum": symbolTypes,
					},
				},
				"language": map[string]interface{}{
					"type": "string",
				},
				"path_filter": map[string]interface{}{
					"type":        "string",
					"description": "Glob over project-relative paths",
				},
				"limit": limitProperty(10),
			},
			Required: []string{"query"},
		},
	}
}

// statusTool returns the tool definition for status
func statusTool() mcp.Tool {
	return mcp.Tool{
		Name:        engine.VerbStatus,
		Description: "Report index state, statistics and semantic search availability",
		Annotations: readOnly,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
