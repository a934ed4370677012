package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

// TestUpsertSymbol_UniqueID verifies that re-upserting a symbol id updates
// the existing row instead of adding a duplicate
func TestUpsertSymbol_UniqueID(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	fileID, err := store.UpsertFile(ctx, testFile("svc.py", types.LangPython))
	require.NoError(t, err)

	// Check schema to debug
	var schemaSQL string
	err = store.db.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type='table' AND name='symbols'").Scan(&schemaSQL)
	require.NoError(t, err)
	t.Logf("Symbols table schema:\n%s", schemaSQL)

	sym := testSymbol("svc.py", "handle", types.KindFunction, 10)
	sym.Signature = "def handle()"
	require.NoError(t, store.UpsertSymbol(ctx, fileID, sym))

	sym.Signature = "def handle(request)" // Updated signature
	sym.Location.LineEnd = 30
	require.NoError(t, store.UpsertSymbol(ctx, fileID, sym))

	symbols, err := store.ListSymbolsByFile(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, symbols, 1, "Should have exactly one symbol after upsert")
	assert.Equal(t, "def handle(request)", symbols[0].Signature, "Signature should be updated")
	assert.Equal(t, 30, symbols[0].Location.LineEnd)

	// The FTS index has exactly one row for the symbol
	var ftsRows int
	err = store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols_fts WHERE symbols_fts MATCH 'handle'").Scan(&ftsRows)
	require.NoError(t, err)
	assert.Equal(t, 1, ftsRows)
}

// TestUpsertSymbol_MovesBetweenFiles covers a symbol id re-owned by another file record
func TestUpsertSymbol_MovesBetweenFiles(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first, err := store.UpsertFile(ctx, testFile("a.py", types.LangPython))
	require.NoError(t, err)
	second, err := store.UpsertFile(ctx, testFile("b.py", types.LangPython))
	require.NoError(t, err)

	sym := testSymbol("a.py", "shared", types.KindFunction, 1)
	require.NoError(t, store.UpsertSymbol(ctx, first, sym))
	require.NoError(t, store.UpsertSymbol(ctx, second, sym))

	a, err := store.ListSymbolsByFile(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, a)
	b, err := store.ListSymbolsByFile(ctx, second)
	require.NoError(t, err)
	assert.Len(t, b, 1)
}

func TestMigration_V1_Schema(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	var version string
	err := store.db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	for _, name := range []string{"files", "symbols", "symbols_fts", "relations", "index_meta"} {
		var found string
		err := store.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE name = ?", name).Scan(&found)
		require.NoError(t, err, name)
	}

	var relSQL string
	err = store.db.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type='table' AND name='relations'").Scan(&relSQL)
	require.NoError(t, err)
	assert.Contains(t, relSQL, "PRIMARY KEY (source_id, target_id, relation_type)")
}

// TestRepeatedUpserts simulates re-indexing the same file several times
func TestRepeatedUpserts(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := InTx(ctx, store, func(tx Tx) error {
			fileID, err := tx.UpsertFile(ctx, testFile("test.py", types.LangPython))
			if err != nil {
				return err
			}
			sym := testSymbol("test.py", "TestFunc", types.KindFunction, 10)
			if err := tx.UpsertSymbol(ctx, fileID, sym); err != nil {
				return err
			}
			_, err = tx.PruneSymbolsOfFile(ctx, fileID, []string{sym.ID})
			return err
		})
		require.NoError(t, err, "Upsert iteration %d should succeed", i)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 1, stats.SymbolCount, "Should have only one symbol after repeated upserts")
}
