// Package mcp exposes the codeindex verbs as Model Context Protocol tools.
//
// Each verb of the engine (init, update, search, find, symbol, inspect,
// graph, semantic, status) is registered as a tool of the same name. A tool
// call passes its arguments to engine.Execute unchanged and returns the
// result envelope as JSON text:
//
//	Request:
//	{
//	  "name": "symbol",
//	  "arguments": {"name": "parse_config", "mode": "fuzzy", "type": ["function"]}
//	}
//
//	Response text:
//	{
//	  "success": true,
//	  "data": {
//	    "results": [{"id": "...", "name": "parse_config", "kind": "function", "score": 0.93}],
//	    "metadata": {"count": 1, "elapsed_ms": 2, "mode": "fuzzy"}
//	  }
//	}
//
// Failed verbs return the error envelope with IsError set on the tool
// result; JSON-RPC errors are reserved for transport failures.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "codeindex": {
//	      "command": "/usr/local/bin/codeindex",
//	      "args": ["serve", "--root", "/path/to/project"]
//	    }
//	  }
//	}
//
// The server writes protocol messages to stdout only; logs go to stderr.
package mcp
