package embedder

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// LocalDimension is the width of the local provider's vectors
const LocalDimension = 384

// LocalProvider embeds text without a model by hashing identifier tokens and
// their character trigrams into a fixed-width vector. Texts that share
// identifiers or word pieces end up close under cosine similarity. It needs
// no network and is fully deterministic.
type LocalProvider struct {
	model     string
	dimension int
}

// NewLocalProvider creates the feature-hashing embedder
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		model:     fmt.Sprintf("hashing-%d", LocalDimension),
		dimension: LocalDimension,
	}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Embedding{
		Vector:    l.embed(req.Text),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      ComputeHash(req.Text),
	}, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, l.dimension)
	for _, tok := range Tokenize(text) {
		l.add(vector, tok, 1.0)
		if len(tok) > 3 {
			padded := "^" + tok + "$"
			for i := 0; i+3 <= len(padded); i++ {
				l.add(vector, padded[i:i+3], 0.25)
			}
		}
	}
	return NormalizeVector(vector)
}

// add hashes feature into one bucket with a hash-derived sign
func (l *LocalProvider) add(vector []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(l.dimension))
	if h>>63 == 1 {
		weight = -weight
	}
	vector[idx] += weight
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// Tokenize splits text into lowercase words, further splitting identifiers
// on camelCase and snake_case boundaries
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, w := range words {
		parts := splitCamel(w)
		for _, p := range parts {
			tokens = append(tokens, strings.ToLower(p))
		}
		if len(parts) > 1 {
			tokens = append(tokens, strings.ToLower(w))
		}
	}
	return tokens
}

func splitCamel(word string) []string {
	runes := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
		// "HTTPServer" splits before the last capital of a run
		if !boundary && unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if unicode.IsDigit(prev) != unicode.IsDigit(cur) {
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
