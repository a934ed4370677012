package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

func setupTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, storage.Storage) {
	t.Helper()
	store := setupTestStorage(t)
	return New(config.Default(t.TempDir()), store, opts...), store
}

func addSymbol(t *testing.T, store storage.Storage, path, name string, kind types.SymbolKind, line int) types.Symbol {
	t.Helper()
	ctx := context.Background()
	fileID, err := store.UpsertFile(ctx, &types.FileMeta{Path: path, Language: types.LangPython, Fingerprint: "f-" + path, LineCount: 100})
	require.NoError(t, err)
	short := name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			short = name[i+1:]
			break
		}
	}
	sym := types.Symbol{
		ID:        types.SymbolID(path, name),
		Name:      name,
		ShortName: short,
		Kind:      kind,
		Language:  types.LangPython,
		Signature: "def " + short + "()",
		Location:  types.Location{FilePath: path, LineStart: line, LineEnd: line + 2},
	}
	require.NoError(t, store.UpsertSymbol(ctx, fileID, &sym))
	return sym
}

func relate(t *testing.T, store storage.Storage, from, to types.Symbol, typ types.RelationType) {
	t.Helper()
	require.NoError(t, store.UpsertRelation(context.Background(), types.Relation{SourceID: from.ID, TargetID: to.ID, Type: typ}))
}

func nodeIDs(g *Graph) []string {
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestFindSymbol_Exact(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	foo := addSymbol(t, store, "a.py", "foo", types.KindFunction, 1)
	addSymbol(t, store, "b.py", "bar", types.KindFunction, 1)
	addSymbol(t, store, "c.py", "Service.foo", types.KindMethod, 4)

	matches, err := q.FindSymbol(ctx, FindRequest{Name: "foo", Mode: MatchExact})
	require.NoError(t, err)
	require.Len(t, matches, 2, "exact matches qualified and short names")
	assert.Equal(t, foo.ID, matches[0].ID, "qualified name matches first")

	matches, err = q.FindSymbol(ctx, FindRequest{Name: "foo", Kinds: []types.SymbolKind{types.KindMethod}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Service.foo", matches[0].Name)

	matches, err = q.FindSymbol(ctx, FindRequest{Name: "Foo"})
	require.NoError(t, err)
	assert.Empty(t, matches, "exact lookup is case-sensitive")
}

func TestFindSymbol_Fuzzy(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	addSymbol(t, store, "cfg.py", "parse_config", types.KindFunction, 1)
	addSymbol(t, store, "cfg.py", "render_page", types.KindFunction, 10)

	matches, err := q.FindSymbol(ctx, FindRequest{Name: "parse_confg", Mode: MatchFuzzy})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "parse_config", matches[0].Name)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, config.DefaultFuzzyThreshold)
	}
}

func TestFindSymbol_IncludeRelations(t *testing.T) {
	q, store := newTestEngine(t)
	foo := addSymbol(t, store, "a.py", "foo", types.KindFunction, 1)
	bar := addSymbol(t, store, "b.py", "bar", types.KindFunction, 1)
	relate(t, store, bar, foo, types.RelationCalls)

	matches, err := q.FindSymbol(context.Background(), FindRequest{Name: "foo", IncludeRelations: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Len(t, matches[0].Incoming, 1)
	assert.Equal(t, bar.ID, matches[0].Incoming[0].SourceID)
	assert.Empty(t, matches[0].Outgoing)
}

func TestFindSymbol_InvalidInput(t *testing.T) {
	q, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := q.FindSymbol(ctx, FindRequest{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = q.FindSymbol(ctx, FindRequest{Name: "x", Kinds: []types.SymbolKind{"widget"}})
	assert.ErrorIs(t, err, types.ErrInvalidKind)

	_, err = q.FindSymbol(ctx, FindRequest{Name: "x", Mode: "regex"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestParseMatchMode(t *testing.T) {
	m, err := ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, m)

	m, err = ParseMatchMode("FUZZY")
	require.NoError(t, err)
	assert.Equal(t, MatchFuzzy, m)

	_, err = ParseMatchMode("glob")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestGraph_CycleSafety(t *testing.T) {
	q, store := newTestEngine(t)
	a := addSymbol(t, store, "a.py", "A", types.KindFunction, 1)
	b := addSymbol(t, store, "b.py", "B", types.KindFunction, 1)
	relate(t, store, a, b, types.RelationCalls)
	relate(t, store, b, a, types.RelationCalls)

	g, err := q.Graph(context.Background(), GraphRequest{Symbol: "A", Depth: 5, Direction: types.DirectionOut})
	require.NoError(t, err)
	assert.Equal(t, a.ID, g.Root)
	assert.Equal(t, []string{a.ID, b.ID}, nodeIDs(g), "each symbol is visited exactly once")
	assert.ElementsMatch(t, []types.Relation{
		{SourceID: a.ID, TargetID: b.ID, Type: types.RelationCalls},
		{SourceID: b.ID, TargetID: a.ID, Type: types.RelationCalls},
	}, g.Edges)
}

func TestGraph_Directions(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	top := addSymbol(t, store, "m.py", "top", types.KindFunction, 1)
	mid := addSymbol(t, store, "m.py", "mid", types.KindFunction, 5)
	leaf := addSymbol(t, store, "m.py", "leaf", types.KindFunction, 9)
	relate(t, store, top, mid, types.RelationCalls)
	relate(t, store, mid, leaf, types.RelationCalls)

	tests := []struct {
		name  string
		req   GraphRequest
		nodes []string
		edges int
	}{
		{"callees depth 1", GraphRequest{Symbol: "mid", Depth: 1, Direction: types.DirectionOut}, []string{mid.ID, leaf.ID}, 1},
		{"callers depth 1", GraphRequest{Symbol: "mid", Depth: 1, Direction: types.DirectionIn}, []string{mid.ID, top.ID}, 1},
		{"both depth 1", GraphRequest{Symbol: "mid", Depth: 1, Direction: types.DirectionBoth}, []string{mid.ID, top.ID, leaf.ID}, 2},
		{"callees depth 2", GraphRequest{Symbol: "top", Depth: 2, Direction: types.DirectionOut}, []string{top.ID, mid.ID, leaf.ID}, 2},
		{"depth bounds traversal", GraphRequest{Symbol: "top", Depth: 1, Direction: types.DirectionOut}, []string{top.ID, mid.ID}, 1},
		{"default is callees", GraphRequest{Symbol: "leaf"}, []string{leaf.ID}, 0},
		{"type filter", GraphRequest{Symbol: "top", Depth: 3, Types: []types.RelationType{types.RelationImports}}, []string{top.ID}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := q.Graph(ctx, tt.req)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.nodes, nodeIDs(g))
			assert.Len(t, g.Edges, tt.edges)
		})
	}

	g, err := q.Graph(ctx, GraphRequest{Symbol: "top", Depth: 2})
	require.NoError(t, err)
	depths := map[string]int{}
	for _, n := range g.Nodes {
		depths[n.ID] = n.Depth
	}
	assert.Equal(t, map[string]int{top.ID: 0, mid.ID: 1, leaf.ID: 2}, depths)
}

func TestGraph_Errors(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	addSymbol(t, store, "a.py", "foo", types.KindFunction, 1)

	_, err := q.Graph(ctx, GraphRequest{Symbol: "missing"})
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	_, err = q.Graph(ctx, GraphRequest{Symbol: "foo", Direction: "sideways"})
	assert.ErrorIs(t, err, types.ErrInvalidDirection)

	_, err = q.Graph(ctx, GraphRequest{Symbol: "foo", Types: []types.RelationType{"owns"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestGraph_BySymbolIDAndSkipsImports(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	imp := addSymbol(t, store, "a.py", "json", types.KindImport, 1)
	mod := addSymbol(t, store, "b.py", "json", types.KindModule, 1)

	g, err := q.Graph(ctx, GraphRequest{Symbol: "json"})
	require.NoError(t, err)
	assert.Equal(t, mod.ID, g.Root, "definitions win over import bindings")

	g, err = q.Graph(ctx, GraphRequest{Symbol: imp.ID})
	require.NoError(t, err)
	assert.Equal(t, imp.ID, g.Root)
}

func TestInspect(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	foo := addSymbol(t, store, "pkg/a.py", "foo", types.KindFunction, 1)
	helper := addSymbol(t, store, "pkg/a.py", "helper", types.KindFunction, 10)
	bar := addSymbol(t, store, "pkg/b.py", "bar", types.KindFunction, 1)
	relate(t, store, bar, foo, types.RelationCalls)
	relate(t, store, foo, helper, types.RelationCalls)

	d, err := q.Inspect(ctx, "./pkg/a.py")
	require.NoError(t, err)
	require.NotNil(t, d.File)
	assert.Nil(t, d.Symbol)
	assert.Equal(t, "pkg/a.py", d.File.File.Path)
	assert.Len(t, d.File.Symbols, 2)

	d, err = q.Inspect(ctx, foo.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Symbol)
	assert.Equal(t, foo.ID, d.Symbol.Symbol.ID)
	require.Len(t, d.Symbol.Incoming, 1)
	assert.Equal(t, bar.ID, d.Symbol.Incoming[0].Symbol.ID)
	require.Len(t, d.Symbol.Outgoing, 1)
	assert.Equal(t, helper.ID, d.Symbol.Outgoing[0].Symbol.ID)

	d, err = q.Inspect(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, bar.ID, d.Symbol.Symbol.ID)

	_, err = q.Inspect(ctx, "nope.py")
	assert.ErrorIs(t, err, ErrTargetNotFound)

	_, err = q.Inspect(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
