// Package embedder turns symbol text into vectors for semantic search.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 1000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{sym.SemanticText()},
//	})
//
// Batches are returned in input order. Remote providers accept at most
// MaxBatchSize texts per call; callers chunk by DefaultBatchSize.
//
// # Provider Selection
//
// NewFromEnv picks a provider from the environment:
//
//  1. CODEINDEX_EMBEDDING_PROVIDER names one of jina, openai, ollama, local
//  2. Else if JINA_API_KEY is set, Jina AI
//  3. Else if OPENAI_API_KEY is set, OpenAI
//  4. Else the local provider
//
// Providers:
//
//	jina    1024 dims  remote, code-tuned
//	openai  1536 dims  remote
//	ollama   768 dims  local server at OLLAMA_HOST (default http://localhost:11434)
//	local    384 dims  in-process feature hashing, no network
//
// # Caching
//
// WithCache decorates any Embedder with an LRU keyed by provider, model and
// content hash. Batch calls only send the texts that miss the cache.
//
// # Errors
//
// Remote calls retry with exponential backoff on network errors, 429 and 5xx.
// Other 4xx responses fail immediately. Failures wrap ErrProviderFailed.
//
// # Lazy construction
//
// Lazy defers building the embedder until semantic work actually needs it,
// so commands that never embed never touch the network.
package embedder
