// Package query answers read-only questions about an index.
//
// The engine exposes four operations over the structural and semantic stores:
//   - FindSymbol: exact or fuzzy name lookup with an optional kind filter
//   - Graph: breadth-first relation traversal with cycle detection
//   - SemanticSearch: embedding similarity over the vector store
//   - Inspect: full detail of a file or a symbol
//
// # Basic Usage
//
//	q := query.New(cfg, store, query.WithVectors(vs, lazy))
//
//	matches, err := q.FindSymbol(ctx, query.FindRequest{
//	    Name: "parse_config",
//	    Mode: query.MatchFuzzy,
//	    Kinds: []types.SymbolKind{types.KindFunction, types.KindMethod},
//	})
//
// # Graph Traversal
//
// Graph starts at a symbol id or exact name and follows relations for up to
// Depth hops in the requested direction:
//
//	g, err := q.Graph(ctx, query.GraphRequest{
//	    Symbol:    "foo",
//	    Depth:     2,
//	    Direction: types.DirectionIn, // callers
//	})
//
// Each symbol is expanded at most once per traversal, so cyclic call graphs
// terminate. Edges are reported source → target as stored.
//
// # Semantic Search
//
// Semantic search embeds the query with the embedder the vectors were built
// with. When no vectors exist, or they were produced by another model, it
// returns ErrSemanticUnavailable instead of an empty result.
//
// Two modes are supported:
//   - Vector (default): cosine similarity only
//   - Hybrid: vector and text-index results merged with Reciprocal Rank Fusion
//
// Responses are cached in an LRU keyed by the query, the model and the last
// indexing time, so a new indexing pass never serves stale results.
package query
