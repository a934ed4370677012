package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
	"github.com/dshills/codeindex/pkg/types"
)

func setupVectors(t *testing.T) *vectorstore.Store {
	t.Helper()
	vs, err := vectorstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}

func localLazy() *embedder.Lazy {
	return embedder.NewLazy(func() (embedder.Embedder, error) {
		return embedder.NewLocalProvider(), nil
	})
}

// embedAll writes a vector for every symbol using the local provider
func embedAll(t *testing.T, vs *vectorstore.Store, syms ...types.Symbol) {
	t.Helper()
	ctx := context.Background()
	p := embedder.NewLocalProvider()
	for _, sym := range syms {
		text := sym.SemanticText()
		emb, err := p.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		require.NoError(t, err)
		require.NoError(t, vs.Upsert(ctx, vectorstore.Entry{
			ID:     sym.ID,
			Vector: emb.Vector,
			Metadata: vectorstore.Metadata{
				FilePath: sym.Location.FilePath,
				Name:     sym.Name,
				Kind:     sym.Kind,
				Language: sym.Language,
				TextHash: embedder.ComputeHash(text),
			},
		}))
	}
	require.NoError(t, vs.SetModel(ctx, embedder.Key(p)))
}

func seedDocumented(t *testing.T, store storage.Storage) (parse, render, fetch types.Symbol) {
	t.Helper()
	ctx := context.Background()
	fileID, err := store.UpsertFile(ctx, &types.FileMeta{Path: "app/config.py", Language: types.LangPython, Fingerprint: "x"})
	require.NoError(t, err)
	webID, err := store.UpsertFile(ctx, &types.FileMeta{Path: "web/views.py", Language: types.LangPython, Fingerprint: "y"})
	require.NoError(t, err)

	mk := func(fileID int64, path, name string, kind types.SymbolKind, doc string) types.Symbol {
		sym := types.Symbol{
			ID:         types.SymbolID(path, name),
			Name:       name,
			ShortName:  name,
			Kind:       kind,
			Language:   types.LangPython,
			Signature:  "def " + name + "(path)",
			DocComment: doc,
			Location:   types.Location{FilePath: path, LineStart: 1, LineEnd: 5},
		}
		require.NoError(t, store.UpsertSymbol(ctx, fileID, &sym))
		return sym
	}
	parse = mk(fileID, "app/config.py", "parse_config", types.KindFunction, "Parse the configuration file and return settings.")
	render = mk(webID, "web/views.py", "render_page", types.KindFunction, "Render an HTML page template for the browser.")
	fetch = mk(webID, "web/views.py", "HttpClient", types.KindClass, "Client that fetches remote resources over HTTP.")
	return parse, render, fetch
}

func TestSemanticSearch_Unavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("no vector store", func(t *testing.T) {
		q, _ := newTestEngine(t)
		_, err := q.SemanticSearch(ctx, SemanticRequest{Query: "parse config"})
		assert.ErrorIs(t, err, ErrSemanticUnavailable)
		assert.ErrorIs(t, q.SemanticAvailable(ctx), ErrSemanticUnavailable)
	})

	t.Run("never populated", func(t *testing.T) {
		q, _ := newTestEngine(t, WithVectors(setupVectors(t), localLazy()))
		res, err := q.SemanticSearch(ctx, SemanticRequest{Query: "parse config"})
		assert.Nil(t, res, "unavailable is an error, not an empty result")
		assert.ErrorIs(t, err, ErrSemanticUnavailable)
		assert.ErrorIs(t, err, vectorstore.ErrEmpty)
	})

	t.Run("different model", func(t *testing.T) {
		vs := setupVectors(t)
		q, store := newTestEngine(t, WithVectors(vs, localLazy()))
		parse, _, _ := seedDocumented(t, store)
		embedAll(t, vs, parse)
		require.NoError(t, vs.SetModel(ctx, "openai/text-embedding-3-small"))

		_, err := q.SemanticSearch(ctx, SemanticRequest{Query: "parse config"})
		assert.ErrorIs(t, err, ErrSemanticUnavailable)
	})

	t.Run("empty query", func(t *testing.T) {
		q, _ := newTestEngine(t, WithVectors(setupVectors(t), localLazy()))
		_, err := q.SemanticSearch(ctx, SemanticRequest{Query: " "})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestSemanticSearch_Vector(t *testing.T) {
	ctx := context.Background()
	vs := setupVectors(t)
	q, store := newTestEngine(t, WithVectors(vs, localLazy()))
	parse, render, fetch := seedDocumented(t, store)
	embedAll(t, vs, parse, render, fetch)
	require.NoError(t, q.SemanticAvailable(ctx))

	res, err := q.SemanticSearch(ctx, SemanticRequest{Query: "parse the configuration", Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, parse.ID, res.Results[0].Symbol.ID)
	assert.Equal(t, SemanticModeVector, res.Mode)
	assert.Equal(t, "local/hashing-384", res.Model)
	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].Score, res.Results[i].Score)
	}

	res, err = q.SemanticSearch(ctx, SemanticRequest{
		Query:  "parse the configuration",
		Filter: &vectorstore.Filter{PathGlob: "web/**"},
	})
	require.NoError(t, err)
	for _, r := range res.Results {
		assert.Equal(t, "web/views.py", r.Symbol.Location.FilePath)
	}

	res, err = q.SemanticSearch(ctx, SemanticRequest{
		Query:  "http client",
		Filter: &vectorstore.Filter{Kinds: []types.SymbolKind{types.KindClass}},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, fetch.ID, res.Results[0].Symbol.ID)

	_, err = q.SemanticSearch(ctx, SemanticRequest{Query: "x", Filter: &vectorstore.Filter{PathGlob: "[bad"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSemanticSearch_SkipsDeletedSymbols(t *testing.T) {
	ctx := context.Background()
	vs := setupVectors(t)
	q, store := newTestEngine(t, WithVectors(vs, localLazy()))
	parse, render, _ := seedDocumented(t, store)
	embedAll(t, vs, parse, render)

	f, err := store.GetFile(ctx, "web/views.py")
	require.NoError(t, err)
	require.NoError(t, store.DeleteFile(ctx, f.ID))

	res, err := q.SemanticSearch(ctx, SemanticRequest{Query: "render html page"})
	require.NoError(t, err)
	for _, r := range res.Results {
		assert.NotEqual(t, render.ID, r.Symbol.ID)
	}
}

func TestSemanticSearch_Hybrid(t *testing.T) {
	ctx := context.Background()
	vs := setupVectors(t)
	q, store := newTestEngine(t, WithVectors(vs, localLazy()))
	parse, render, fetch := seedDocumented(t, store)
	embedAll(t, vs, parse, render, fetch)

	res, err := q.SemanticSearch(ctx, SemanticRequest{Query: "render_page", Mode: SemanticModeHybrid, Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, render.ID, res.Results[0].Symbol.ID, "top in both lists wins the fusion")
	assert.Positive(t, res.TextResults)
	assert.Positive(t, res.VectorResults)
	assert.LessOrEqual(t, len(res.Results), 2)
}

func TestSemanticSearch_Cache(t *testing.T) {
	ctx := context.Background()
	vs := setupVectors(t)
	q, store := newTestEngine(t, WithVectors(vs, localLazy()))
	parse, render, _ := seedDocumented(t, store)
	embedAll(t, vs, parse, render)

	req := SemanticRequest{Query: "configuration", UseCache: true}
	first, err := q.SemanticSearch(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := q.SemanticSearch(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)

	// Cached copies are independent of what callers do with results
	second.Results[0].Score = -1
	third, err := q.SemanticSearch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Results[0].Score, third.Results[0].Score)

	// A new indexing pass changes the generation and bypasses old entries
	require.NoError(t, store.SetMeta(ctx, storage.MetaLastIndexedAt, "2026-01-01T00:00:00Z"))
	fourth, err := q.SemanticSearch(ctx, req)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)

	q.InvalidateCache()
	fifth, err := q.SemanticSearch(ctx, req)
	require.NoError(t, err)
	assert.False(t, fifth.CacheHit)
}

func TestApplyRRF(t *testing.T) {
	vec := []vectorstore.Match{{ID: "a"}, {ID: "b"}}
	text := []types.ScoredSymbol{{Symbol: types.Symbol{ID: "b"}}, {Symbol: types.Symbol{ID: "c"}}}

	ranked := applyRRF(vec, text, 60)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].symbolID, "present in both lists")
	assert.Equal(t, 1, ranked[0].rank)
	assert.InDelta(t, 1.0/62+1.0/61, ranked[0].score, 1e-9)
	assert.Equal(t, "a", ranked[1].symbolID, "ties break by id")
	assert.Equal(t, "c", ranked[2].symbolID)
}

func TestComputeQueryHash(t *testing.T) {
	base := SemanticRequest{Query: "q", Mode: SemanticModeVector, Limit: 10}
	h := computeQueryHash(base, "m", "g1")
	assert.Equal(t, h, computeQueryHash(base, "m", "g1"))
	assert.NotEqual(t, h, computeQueryHash(base, "m", "g2"))
	assert.NotEqual(t, h, computeQueryHash(base, "other", "g1"))

	filtered := base
	filtered.Filter = &vectorstore.Filter{Language: "go"}
	assert.NotEqual(t, h, computeQueryHash(filtered, "m", "g1"))
}
