package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testFile(path, lang string) *types.FileMeta {
	return &types.FileMeta{
		Path:        path,
		Language:    lang,
		LineCount:   10,
		Size:        120,
		Fingerprint: "abc123",
	}
}

func testSymbol(path, name string, kind types.SymbolKind, line int) *types.Symbol {
	short := name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			short = name[i+1:]
			break
		}
	}
	return &types.Symbol{
		ID:        types.SymbolID(path, name),
		Name:      name,
		ShortName: short,
		Kind:      kind,
		Language:  types.LangPython,
		Location: types.Location{
			FilePath:  path,
			LineStart: line,
			LineEnd:   line + 2,
		},
	}
}

// seed stores one file with the given symbols and returns its id
func seed(t *testing.T, s *SQLiteStorage, path string, syms ...*types.Symbol) int64 {
	t.Helper()
	ctx := context.Background()
	fileID, err := s.UpsertFile(ctx, testFile(path, types.LangPython))
	require.NoError(t, err)
	for _, sym := range syms {
		require.NoError(t, s.UpsertSymbol(ctx, fileID, sym))
	}
	return fileID
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), storage.db))

	var n int
	require.NoError(t, storage.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))

	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestUpsertFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	file := testFile("pkg/a.py", types.LangPython)
	file.Imports = []string{"os", "pkg.b"}
	id, err := storage.UpsertFile(ctx, file)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// Updating in place keeps the id
	file.Fingerprint = "def456"
	file.LineCount = 42
	id2, err := storage.UpsertFile(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, err := storage.GetFile(ctx, "pkg/a.py")
	require.NoError(t, err)
	assert.Equal(t, "def456", got.Fingerprint)
	assert.Equal(t, 42, got.LineCount)
	assert.Equal(t, []string{"os", "pkg.b"}, got.Imports)
	assert.WithinDuration(t, time.Now(), got.IndexedAt, time.Minute)
}

func TestUpsertFile_Invalid(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.UpsertFile(context.Background(), &types.FileMeta{Path: "a.py"})
	assert.ErrorIs(t, err, types.ErrMissingFingerprint)
}

func TestGetFile_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetFile(context.Background(), "missing.py")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.GetFileByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilesAndFingerprints(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []string{"b.py", "a.py", "c/d.py"} {
		f := testFile(p, types.LangPython)
		f.Fingerprint = "fp-" + p
		_, err := storage.UpsertFile(ctx, f)
		require.NoError(t, err)
	}

	files, err := storage.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.py", files[0].Path)
	assert.Equal(t, "c/d.py", files[2].Path)

	fps, err := storage.FileFingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.py": "fp-a.py", "b.py": "fp-b.py", "c/d.py": "fp-c/d.py"}, fps)
}

func TestClearFingerprints(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []string{"a.py", "b.py"} {
		f := testFile(p, types.LangPython)
		f.Fingerprint = "fp-" + p
		_, err := storage.UpsertFile(ctx, f)
		require.NoError(t, err)
	}

	require.NoError(t, storage.ClearFingerprints(ctx, []string{"a.py", "missing.py"}))

	fps, err := storage.FileFingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.py": "", "b.py": "fp-b.py"}, fps)
}

func TestDeleteFile_Cascades(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	foo := testSymbol("a.py", "foo", types.KindFunction, 1)
	bar := testSymbol("b.py", "bar", types.KindFunction, 1)
	aID := seed(t, storage, "a.py", foo)
	seed(t, storage, "b.py", bar)
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: bar.ID, TargetID: foo.ID, Type: types.RelationCalls}))

	require.NoError(t, storage.DeleteFile(ctx, aID))

	_, err := storage.GetSymbol(ctx, foo.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rels, err := storage.GetRelations(ctx, bar.ID, types.DirectionOut)
	require.NoError(t, err)
	assert.Empty(t, rels)

	// FTS no longer returns the deleted symbol
	results, err := storage.SearchSymbols(ctx, "foo", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, storage.DeleteFile(ctx, aID), ErrNotFound)
}

func TestUpsertSymbol(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	sym := testSymbol("a.py", "Service.run", types.KindMethod, 3)
	sym.Signature = "def run(self, job)"
	sym.DocComment = "Run a job."
	sym.Metadata = map[string]string{"class": "Service"}
	seed(t, storage, "a.py", sym)

	got, err := storage.GetSymbol(ctx, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, sym.Name, got.Name)
	assert.Equal(t, "run", got.ShortName)
	assert.Equal(t, types.KindMethod, got.Kind)
	assert.Equal(t, "a.py", got.Location.FilePath)
	assert.Equal(t, 3, got.Location.LineStart)
	assert.Equal(t, "def run(self, job)", got.Signature)
	assert.Equal(t, "Service", got.Metadata["class"])
}

func TestUpsertSymbol_UnknownFile(t *testing.T) {
	storage := setupTestDB(t)

	sym := testSymbol("ghost.py", "foo", types.KindFunction, 1)
	err := storage.UpsertSymbol(context.Background(), 12345, sym)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReferentialIntegrity)

	var ierr *IntegrityError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "ghost.py", ierr.FilePath)
	assert.Equal(t, sym.ID, ierr.SymbolID)
}

func TestUpsertSymbol_Invalid(t *testing.T) {
	storage := setupTestDB(t)
	fileID := seed(t, storage, "a.py")

	sym := testSymbol("a.py", "foo", "weird", 1)
	err := storage.UpsertSymbol(context.Background(), fileID, sym)
	assert.ErrorIs(t, err, types.ErrInvalidKind)
}

func TestListSymbolsByFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	fileID := seed(t, storage, "a.py",
		testSymbol("a.py", "second", types.KindFunction, 20),
		testSymbol("a.py", "first", types.KindFunction, 1),
	)
	seed(t, storage, "b.py", testSymbol("b.py", "other", types.KindFunction, 1))

	syms, err := storage.ListSymbolsByFile(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "first", syms[0].Name)
	assert.Equal(t, "second", syms[1].Name)
}

func TestListSymbols_Paging(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var all []*types.Symbol
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		all = append(all, testSymbol("a.py", n, types.KindFunction, 1))
	}
	seed(t, storage, "a.py", all...)

	seen := map[string]bool{}
	after := ""
	for {
		page, err := storage.ListSymbols(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, s := range page {
			assert.False(t, seen[s.ID], "symbol returned twice")
			seen[s.ID] = true
		}
		after = page[len(page)-1].ID
	}
	assert.Len(t, seen, 5)
}

func TestGetSymbols_PreservesOrder(t *testing.T) {
	storage := setupTestDB(t)
	a := testSymbol("a.py", "a", types.KindFunction, 1)
	b := testSymbol("a.py", "b", types.KindFunction, 5)
	seed(t, storage, "a.py", a, b)

	syms, err := storage.GetSymbols(context.Background(), []string{b.ID, "missing", a.ID})
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "b", syms[0].Name)
	assert.Equal(t, "a", syms[1].Name)
}

func TestPruneSymbolsOfFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	keep := testSymbol("a.py", "keep", types.KindFunction, 1)
	drop := testSymbol("a.py", "drop", types.KindFunction, 5)
	caller := testSymbol("b.py", "caller", types.KindFunction, 1)
	fileID := seed(t, storage, "a.py", keep, drop)
	seed(t, storage, "b.py", caller)
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: caller.ID, TargetID: keep.ID, Type: types.RelationCalls}))

	n, err := storage.PruneSymbolsOfFile(ctx, fileID, []string{keep.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = storage.GetSymbol(ctx, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The surviving symbol keeps its incoming edge
	rels, err := storage.GetRelations(ctx, keep.ID, types.DirectionIn)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestDeleteSymbolsOfFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	fileID := seed(t, storage, "a.py",
		testSymbol("a.py", "one", types.KindFunction, 1),
		testSymbol("a.py", "two", types.KindFunction, 5),
	)
	require.NoError(t, storage.DeleteSymbolsOfFile(ctx, fileID))

	syms, err := storage.ListSymbolsByFile(ctx, fileID)
	require.NoError(t, err)
	assert.Empty(t, syms)

	// The file record survives
	_, err = storage.GetFileByID(ctx, fileID)
	assert.NoError(t, err)
}

func TestFindSymbolByName(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage, "a.py",
		testSymbol("a.py", "Server.start", types.KindMethod, 1),
		testSymbol("a.py", "startup", types.KindFunction, 10),
	)

	t.Run("exact short name", func(t *testing.T) {
		sym, err := storage.FindSymbolByName(ctx, "start", true)
		require.NoError(t, err)
		assert.Equal(t, "Server.start", sym.Name)
	})

	t.Run("exact qualified name", func(t *testing.T) {
		sym, err := storage.FindSymbolByName(ctx, "Server.start", true)
		require.NoError(t, err)
		assert.Equal(t, "Server.start", sym.Name)
	})

	t.Run("exact miss", func(t *testing.T) {
		_, err := storage.FindSymbolByName(ctx, "stop", true)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("substring", func(t *testing.T) {
		syms, err := storage.FindSymbolsByName(ctx, "tart", false, 10)
		require.NoError(t, err)
		assert.Len(t, syms, 2)
	})

	t.Run("like wildcards are literal", func(t *testing.T) {
		syms, err := storage.FindSymbolsByName(ctx, "%", false, 10)
		require.NoError(t, err)
		assert.Empty(t, syms)
	})
}

func TestSearchSymbols(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	parse := testSymbol("a.py", "parse_config", types.KindFunction, 1)
	parse.Signature = "def parse_config(path)"
	loader := testSymbol("a.py", "ConfigLoader", types.KindClass, 10)
	loader.DocComment = "Loads configuration files."
	other := testSymbol("a.py", "render", types.KindFunction, 30)
	seed(t, storage, "a.py", parse, loader, other)

	results, err := storage.SearchSymbols(ctx, "config", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Symbol.Name)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.Contains(t, names, "parse_config")
	assert.Contains(t, names, "ConfigLoader")
	assert.NotContains(t, names, "render")

	// Scores are non-increasing
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchSymbols_FTSFollowsUpdates(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	sym := testSymbol("a.py", "handler", types.KindFunction, 1)
	sym.DocComment = "original words"
	fileID := seed(t, storage, "a.py", sym)

	sym.DocComment = "replacement text"
	require.NoError(t, storage.UpsertSymbol(ctx, fileID, sym))

	results, err := storage.SearchSymbols(ctx, "replacement", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, sym.ID, results[0].Symbol.ID)

	results, err = storage.SearchSymbols(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSymbols_OperatorInput(t *testing.T) {
	storage := setupTestDB(t)
	seed(t, storage, "a.py", testSymbol("a.py", "foo", types.KindFunction, 1))

	for _, q := range []string{`foo" OR "*`, "NOT foo", "(foo)", "foo AND"} {
		_, err := storage.SearchSymbols(context.Background(), q, 10)
		assert.NoError(t, err, q)
	}

	_, err := storage.SearchSymbols(context.Background(), "   ", 10)
	assert.Error(t, err)
}

func TestRelations(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := testSymbol("a.py", "a", types.KindFunction, 1)
	b := testSymbol("a.py", "b", types.KindFunction, 5)
	c := testSymbol("a.py", "c", types.KindFunction, 9)
	seed(t, storage, "a.py", a, b, c)

	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: a.ID, TargetID: b.ID, Type: types.RelationCalls}))
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: c.ID, TargetID: a.ID, Type: types.RelationCalls}))
	// Duplicate triple is a no-op
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: a.ID, TargetID: b.ID, Type: types.RelationCalls}))

	out, err := storage.GetRelations(ctx, a.ID, types.DirectionOut)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].TargetID)

	in, err := storage.GetRelations(ctx, a.ID, types.DirectionIn)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c.ID, in[0].SourceID)

	both, err := storage.GetRelations(ctx, a.ID, types.DirectionBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = storage.GetRelations(ctx, a.ID, "sideways")
	assert.ErrorIs(t, err, types.ErrInvalidDirection)
}

func TestUpsertRelation_Integrity(t *testing.T) {
	storage := setupTestDB(t)
	a := testSymbol("a.py", "a", types.KindFunction, 1)
	seed(t, storage, "a.py", a)

	err := storage.UpsertRelation(context.Background(), types.Relation{SourceID: a.ID, TargetID: "nope", Type: types.RelationCalls})
	assert.ErrorIs(t, err, ErrReferentialIntegrity)

	err = storage.UpsertRelation(context.Background(), types.Relation{SourceID: a.ID, TargetID: a.ID, Type: "owns"})
	assert.Error(t, err)
}

func TestDeleteRelationsFromFile(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := testSymbol("a.py", "a", types.KindFunction, 1)
	b := testSymbol("b.py", "b", types.KindFunction, 1)
	aID := seed(t, storage, "a.py", a)
	seed(t, storage, "b.py", b)
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: a.ID, TargetID: b.ID, Type: types.RelationCalls}))
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: b.ID, TargetID: a.ID, Type: types.RelationCalls}))

	require.NoError(t, storage.DeleteRelationsFromFile(ctx, aID))

	both, err := storage.GetRelations(ctx, a.ID, types.DirectionBoth)
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, b.ID, both[0].SourceID)
}

func TestMeta(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.GetMeta(ctx, MetaState)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.SetMeta(ctx, MetaState, StateInitializing))
	require.NoError(t, storage.SetMeta(ctx, MetaState, StateReady))

	v, err := storage.GetMeta(ctx, MetaState)
	require.NoError(t, err)
	assert.Equal(t, StateReady, v)
}

func TestStats(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := testSymbol("a.py", "a", types.KindFunction, 1)
	b := testSymbol("a.py", "B", types.KindClass, 5)
	seed(t, storage, "a.py", a, b)
	goFile := testFile("main.go", types.LangGo)
	_, err := storage.UpsertFile(ctx, goFile)
	require.NoError(t, err)
	require.NoError(t, storage.UpsertRelation(ctx, types.Relation{SourceID: a.ID, TargetID: b.ID, Type: types.RelationCalls}))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, storage.SetMeta(ctx, MetaLastIndexedAt, now.Format(time.RFC3339Nano)))

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.Equal(t, 2, stats.SymbolCount)
	assert.Equal(t, 1, stats.RelationCount)
	assert.Equal(t, map[string]int{"python": 1, "go": 1}, stats.FilesByLanguage)
	assert.Equal(t, 2, stats.SymbolsByLanguage["python"])
	assert.Equal(t, 1, stats.SymbolsByKind["class"])
	assert.Equal(t, 1, stats.RelationsByType["calls"])
	require.NotNil(t, stats.LastIndexedAt)
	assert.True(t, now.Equal(*stats.LastIndexedAt))
}

func TestInTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	err := InTx(ctx, storage, func(tx Tx) error {
		fileID, err := tx.UpsertFile(ctx, testFile("a.py", types.LangPython))
		if err != nil {
			return err
		}
		return tx.UpsertSymbol(ctx, fileID, testSymbol("a.py", "foo", types.KindFunction, 1))
	})
	require.NoError(t, err)

	_, err = storage.FindSymbolByName(ctx, "foo", true)
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = InTx(ctx, storage, func(tx Tx) error {
		if _, err := tx.UpsertFile(ctx, testFile("b.py", types.LangPython)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = storage.GetFile(ctx, "b.py")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTx_ReadsSeeOwnWrites(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	fileID, err := tx.UpsertFile(ctx, testFile("a.py", types.LangPython))
	require.NoError(t, err)
	require.NoError(t, tx.UpsertSymbol(ctx, fileID, testSymbol("a.py", "foo", types.KindFunction, 1)))

	syms, err := tx.ListSymbolsByFile(ctx, fileID)
	require.NoError(t, err)
	assert.Len(t, syms, 1)

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
}
