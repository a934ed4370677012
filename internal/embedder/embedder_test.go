package embedder

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("hello"), ComputeHash("hello"))
	assert.NotEqual(t, ComputeHash("hello"), ComputeHash("hello "))
	assert.NotEmpty(t, ComputeHash(""))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "x"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{name: "valid", texts: []string{"a", "b"}},
		{name: "empty batch", texts: nil, wantErr: ErrInvalidInput},
		{name: "empty text", texts: []string{"a", ""}, wantErr: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	c.Set("a", &Embedding{Vector: []float32{1, 2}})
	c.Set("b", &Embedding{Vector: []float32{3}})

	got, ok := c.Get("a")
	require.True(t, ok)
	got.Vector[0] = 99

	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again.Vector[0], "cached vector must not be mutated through a returned copy")

	// "a" was used most recently, so "b" is evicted
	c.Set("c", &Embedding{})
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

// countingEmbedder records how many texts reach the underlying provider
type countingEmbedder struct {
	*LocalProvider
	texts atomic.Int64
	fail  error
}

func (c *countingEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	c.texts.Add(1)
	return c.LocalProvider.GenerateEmbedding(ctx, req)
}

func (c *countingEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	c.texts.Add(int64(len(req.Texts)))
	return c.LocalProvider.GenerateBatch(ctx, req)
}

func TestWithCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{LocalProvider: NewLocalProvider()}
	emb := WithCache(inner, NewCache(100))

	first, err := emb.GenerateEmbedding(ctx, EmbeddingRequest{Text: "parse file"})
	require.NoError(t, err)
	second, err := emb.GenerateEmbedding(ctx, EmbeddingRequest{Text: "parse file"})
	require.NoError(t, err)
	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, int64(1), inner.texts.Load())

	resp, err := emb.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"parse file", "open db", "close db"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, first.Vector, resp.Embeddings[0].Vector)
	assert.Equal(t, int64(3), inner.texts.Load(), "only cache misses reach the provider")

	direct, err := NewLocalProvider().GenerateEmbedding(ctx, EmbeddingRequest{Text: "close db"})
	require.NoError(t, err)
	assert.Equal(t, direct.Vector, resp.Embeddings[2].Vector, "batch order is preserved")
}

func TestWithCache_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	emb := WithCache(&countingEmbedder{LocalProvider: NewLocalProvider(), fail: boom}, NewCache(10))

	_, err := emb.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a"}})
	assert.ErrorIs(t, err, boom)
}

func TestWithCache_NilCache(t *testing.T) {
	inner := NewLocalProvider()
	assert.Same(t, Embedder(inner), WithCache(inner, nil))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider()
	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func parseConfigFile(path string) error"})
	require.NoError(t, err)
	require.Len(t, a.Vector, LocalDimension)

	again, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func parseConfigFile(path string) error"})
	require.NoError(t, err)
	assert.Equal(t, a.Vector, again.Vector, "embedding is deterministic")

	var norm float64
	for _, v := range a.Vector {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	related, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "load config file from path"})
	require.NoError(t, err)
	unrelated, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "render HTML template widgets"})
	require.NoError(t, err)
	assert.Greater(t, cosine(a.Vector, related.Vector), cosine(a.Vector, unrelated.Vector))

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.GenerateEmbedding(cancelled, EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "parseFile", want: []string{"parse", "file", "parsefile"}},
		{in: "HTTPServer", want: []string{"http", "server", "httpserver"}},
		{in: "snake_case", want: []string{"snake", "case"}},
		{in: "utf8Decode", want: []string{"utf", "8", "decode", "utf8decode"}},
		{in: "a.b", want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestLazy(t *testing.T) {
	var calls atomic.Int32
	l := NewLazy(func() (Embedder, error) {
		calls.Add(1)
		return NewLocalProvider(), nil
	})
	assert.False(t, l.Loaded())
	assert.NoError(t, l.Close())

	e1, err := l.Get()
	require.NoError(t, err)
	e2, err := l.Get()
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.True(t, l.Loaded())
	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, l.Close())
}

func TestLazy_MemoizesError(t *testing.T) {
	var calls atomic.Int32
	l := NewLazy(func() (Embedder, error) {
		calls.Add(1)
		return nil, ErrNoProviderEnabled
	})
	_, err := l.Get()
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
	_, err = l.Get()
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, l.Close())
}
