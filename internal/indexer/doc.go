// Package indexer builds and maintains the structural index of a project.
//
// # Basic Usage
//
//	idx := indexer.New(cfg, store,
//	    indexer.WithVectors(vectors, embedder.NewLazy(factory)))
//
//	stats, err := idx.Run(ctx, indexer.Options{})
//	fmt.Printf("indexed %d, skipped %d in %v\n",
//	    stats.FilesIndexed, stats.FilesSkipped, stats.Duration)
//
// # Pipeline
//
// One pass runs these stages:
//
//  1. Discovery: git ls-files or a filtered walk (package discovery)
//  2. Vanished files: files in the store but no longer discovered are deleted
//  3. Parse: a bounded errgroup pool reads, fingerprints and parses files
//  4. Persist: results are written one file per transaction on a single goroutine
//  5. Resolve: after the pool drains, pending relations are resolved by name
//  6. Save: the fingerprint cache and last-indexed time are written
//  7. Embed: optionally, changed symbols are embedded into the vector store
//
// # Incremental Indexing
//
// A file is skipped only when its xxhash fingerprint matches both the
// fingerprint cache and the fingerprint stored with the file record, so a
// stale or missing cache costs a re-parse and never a wrong result.
//
// Symbol ids derive from path and qualified name. Re-parsing a file upserts
// its symbols in place, prunes the ones that disappeared and drops the file's
// outgoing relations, which resolution then rebuilds. Relations from other
// files into surviving symbols are left untouched.
//
// # Errors
//
// A file that cannot be read, parsed or persisted is recorded in
// Statistics.Errors and the pass continues. Cancellation stops the pass
// between files; everything persisted so far stays consistent and the next
// pass picks up the rest.
package indexer
