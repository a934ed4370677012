// Package storage provides SQLite-based persistence for the structural index.
//
// The storage layer manages:
//   - File records and their content fingerprints
//   - Extracted symbols
//   - Relations between symbols
//   - An FTS5 index over symbol names, signatures and doc comments
//   - Index lifecycle metadata
//
// # Database Schema
//
// Tables:
//   - files: project-relative path, language, line count, fingerprint
//   - symbols: extracted symbols keyed by their content-derived id
//   - symbols_fts: FTS5 external-content index over symbols, maintained by triggers
//   - relations: (source_id, target_id, relation_type) edges
//   - index_meta: key/value pairs such as the lifecycle state
//
// Deleting a file cascades to its symbols, and deleting a symbol cascades to
// every relation that touches it. Writes that reference a missing file or
// symbol fail with an *IntegrityError that unwraps to ErrReferentialIntegrity.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(".codeindex/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = storage.InTx(ctx, db, func(tx storage.Tx) error {
//	    fileID, err := tx.UpsertFile(ctx, &result.File)
//	    if err != nil {
//	        return err
//	    }
//	    for i := range result.Symbols {
//	        if err := tx.UpsertSymbol(ctx, fileID, &result.Symbols[i]); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires the fts5 tag for the symbol index
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite driver, FTS5 built in
//
//     go build -tags "purego"
package storage
