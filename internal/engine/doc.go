// Package engine is the command surface of codeindex.
//
// An Engine is bound to one project root. Execute takes a verb (init,
// update, search, find, symbol, inspect, graph, semantic, status) and its
// parameters and always returns an Envelope:
//
//	{"success": true,  "data": {"results": [...], "metadata": {"count": 1, "elapsed_ms": 3, "mode": "exact"}}}
//	{"success": false, "error": {"code": "PROJECT_NOT_INITIALIZED", "message": "...", "suggestion": "..."}}
//
// Only this package maps internal errors to envelope codes (see Classify).
//
// The index moves through uninitialized, initializing and ready. Structural
// queries need a ready index; search and find read the working tree directly
// and work before init. init and update hold an advisory lock file in the
// state directory so two processes never index the same project at once.
package engine
