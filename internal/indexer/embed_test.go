package indexer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/vectorstore"
)

// countingEmbedder wraps the local provider and counts embedded texts
type countingEmbedder struct {
	*embedder.LocalProvider
	texts atomic.Int64
	err   error
}

func (c *countingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.texts.Add(int64(len(req.Texts)))
	return c.LocalProvider.GenerateBatch(ctx, req)
}

func setupVectors(t *testing.T) *vectorstore.Store {
	t.Helper()
	vs, err := vectorstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}

func TestRun_EmbedsSymbols(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "server/server.go", goServer)
	createTestFile(t, root, "client/client.go", goClient)

	vs := setupVectors(t)
	emb := &countingEmbedder{LocalProvider: embedder.NewLocalProvider()}
	lazy := embedder.NewLazy(func() (embedder.Embedder, error) { return emb, nil })
	idx, store := newTestIndexer(t, root, WithVectors(vs, lazy))
	ctx := context.Background()

	stats, err := idx.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Embedded, "embedding is off unless requested or enabled")
	assert.False(t, lazy.Loaded(), "the embedder is not built for structural-only passes")

	stats, err = idx.Run(ctx, Options{Embed: true})
	require.NoError(t, err)
	assert.Positive(t, stats.Embedded)
	assert.Empty(t, stats.EmbedError)

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Embedded, count)

	model, err := vs.Model(ctx)
	require.NoError(t, err)
	assert.Equal(t, embedder.Key(emb), model)

	// Nothing changed, nothing is re-embedded
	before := emb.texts.Load()
	stats, err = idx.Run(ctx, Options{Embed: true})
	require.NoError(t, err)
	assert.Zero(t, stats.Embedded)
	assert.Equal(t, before, emb.texts.Load())

	// Removing symbols removes their vectors
	createTestFile(t, root, "server/server.go", "package server\n")
	_, err = idx.Run(ctx, Options{Embed: true})
	require.NoError(t, err)
	hashes, err := vs.Hashes(ctx)
	require.NoError(t, err)
	_, ok := hashes[findOne(t, store, "Dial").ID]
	assert.True(t, ok)
	syms, err := store.FindSymbolsByName(ctx, "listen", true, 1)
	require.NoError(t, err)
	assert.Empty(t, syms)
	after, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Less(t, after, count)
}

func TestRun_EmbedFailureDoesNotFailPass(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "server/server.go", goServer)

	boom := errors.New("provider down")
	emb := &countingEmbedder{LocalProvider: embedder.NewLocalProvider(), err: boom}
	idx, store := newTestIndexer(t, root, WithVectors(setupVectors(t), embedder.NewLazy(func() (embedder.Embedder, error) {
		return emb, nil
	})))

	stats, err := idx.Run(context.Background(), Options{Embed: true})
	require.NoError(t, err)
	assert.Contains(t, stats.EmbedError, "provider down")
	findOne(t, store, "Server.Start")
}

func TestRebuildEmbeddings(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "server/server.go", goServer)

	vs := setupVectors(t)
	idx, _ := newTestIndexer(t, root, WithVectors(vs, embedder.NewLazy(func() (embedder.Embedder, error) {
		return embedder.NewLocalProvider(), nil
	})))
	ctx := context.Background()
	first, err := idx.Run(ctx, Options{Embed: true})
	require.NoError(t, err)

	stats, err := idx.RebuildEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Embedded, stats.Embedded, "rebuild re-embeds every symbol")
}

func TestRebuildEmbeddings_Disabled(t *testing.T) {
	idx, _ := newTestIndexer(t, t.TempDir())
	_, err := idx.RebuildEmbeddings(context.Background())
	assert.ErrorIs(t, err, ErrSemanticDisabled)
}
