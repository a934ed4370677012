package query

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
	"github.com/dshills/codeindex/pkg/types"
)

// SemanticMode defines how semantic search ranks symbols
type SemanticMode string

const (
	SemanticModeVector SemanticMode = "vector" // Embedding similarity only
	SemanticModeHybrid SemanticMode = "hybrid" // Embedding + name search with RRF
)

// SemanticRequest contains parameters for a semantic search
type SemanticRequest struct {
	Query       string
	Limit       int
	Mode        SemanticMode
	Filter      *vectorstore.Filter
	UseCache    bool
	CacheTTL    time.Duration
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// SemanticResponse contains ranked symbols and search metadata
type SemanticResponse struct {
	Results       []types.ScoredSymbol `json:"results"`
	Mode          SemanticMode         `json:"mode"`
	Model         string               `json:"model"`
	CacheHit      bool                 `json:"cache_hit"`
	VectorResults int                  `json:"vector_results"`
	TextResults   int                  `json:"text_results,omitempty"`
}

// cacheEntry represents a cached response with expiration time
type cacheEntry struct {
	response  *SemanticResponse
	expiresAt time.Time
}

// SemanticAvailable reports whether semantic search can currently be served
func (e *Engine) SemanticAvailable(ctx context.Context) error {
	_, _, err := e.semanticBackend(ctx)
	return err
}

// semanticBackend returns the embedder and the vector store's model key once
// the store holds vectors produced by the configured model.
func (e *Engine) semanticBackend(ctx context.Context) (embedder.Embedder, string, error) {
	if e.vectors == nil || e.embedder == nil {
		return nil, "", fmt.Errorf("%w: no vector store configured", ErrSemanticUnavailable)
	}
	count, err := e.vectors.Count(ctx)
	if err != nil {
		return nil, "", err
	}
	if count == 0 {
		return nil, "", fmt.Errorf("%w: %w", ErrSemanticUnavailable, vectorstore.ErrEmpty)
	}
	stored, err := e.vectors.Model(ctx)
	if err != nil {
		return nil, "", err
	}
	emb, err := e.embedder.Get()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrSemanticUnavailable, err)
	}
	if current := embedder.Key(emb); stored != current {
		return nil, "", fmt.Errorf("%w: vectors were built with %s but %s is configured", ErrSemanticUnavailable, stored, current)
	}
	return emb, stored, nil
}

// SemanticSearch embeds the query with the indexing model and returns the
// most similar symbols. It fails with ErrSemanticUnavailable rather than
// returning an empty result when no embeddings exist.
func (e *Engine) SemanticSearch(ctx context.Context, req SemanticRequest) (*SemanticResponse, error) {
	if err := e.validateSemantic(&req); err != nil {
		return nil, err
	}
	emb, model, err := e.semanticBackend(ctx)
	if err != nil {
		return nil, err
	}

	generation, err := e.store.GetMeta(ctx, storage.MetaLastIndexedAt)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	key := computeQueryHash(req, model, generation)
	if req.UseCache {
		if cached := e.checkCache(key); cached != nil {
			cached.CacheHit = true
			return cached, nil
		}
	}

	var response *SemanticResponse
	switch req.Mode {
	case SemanticModeVector:
		response, err = e.vectorSearch(ctx, emb, req)
	case SemanticModeHybrid:
		response, err = e.hybridSearch(ctx, emb, req)
	default:
		return nil, fmt.Errorf("%w: unsupported semantic mode %q", ErrInvalidQuery, req.Mode)
	}
	if err != nil {
		return nil, err
	}
	response.Mode = req.Mode
	response.Model = model

	if req.UseCache {
		e.storeInCache(key, response, req.CacheTTL)
	}
	return response, nil
}

func (e *Engine) embedQuery(ctx context.Context, emb embedder.Embedder, text string) ([]float32, error) {
	embedding, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return embedding.Vector, nil
}

// vectorSearch performs only vector similarity search
func (e *Engine) vectorSearch(ctx context.Context, emb embedder.Embedder, req SemanticRequest) (*SemanticResponse, error) {
	vec, err := e.embedQuery(ctx, emb, req.Query)
	if err != nil {
		return nil, err
	}
	matches, err := e.vectors.Search(ctx, vec, req.Limit, req.Filter)
	if err != nil {
		if errors.Is(err, vectorstore.ErrEmpty) {
			return nil, fmt.Errorf("%w: %w", ErrSemanticUnavailable, err)
		}
		return nil, err
	}

	ranked := make([]rankedResult, len(matches))
	for i, m := range matches {
		ranked[i] = rankedResult{symbolID: m.ID, score: m.Score, rank: i + 1}
	}
	results, err := e.fetchResults(ctx, ranked, req.Limit)
	if err != nil {
		return nil, err
	}
	return &SemanticResponse{Results: results, VectorResults: len(matches)}, nil
}

// hybridSearch fuses vector similarity with the name/signature text index
// using Reciprocal Rank Fusion
func (e *Engine) hybridSearch(ctx context.Context, emb embedder.Embedder, req SemanticRequest) (*SemanticResponse, error) {
	type textResult struct {
		scored []types.ScoredSymbol
		err    error
	}
	textChan := make(chan textResult, 1)
	go func() {
		scored, err := e.store.SearchSymbols(ctx, req.Query, req.Limit*2)
		textChan <- textResult{scored: scored, err: err}
	}()

	var matches []vectorstore.Match
	vec, vecErr := e.embedQuery(ctx, emb, req.Query)
	if vecErr == nil {
		matches, vecErr = e.vectors.Search(ctx, vec, req.Limit*2, req.Filter)
	}

	var text textResult
	select {
	case text = <-textChan:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Allow one side to fail
	if vecErr != nil && text.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vecErr, text.err)
	}
	if vecErr != nil {
		e.log.Warn("vector side of hybrid search failed", "error", vecErr)
	}

	textScored := filterScored(text.scored, req.Filter)
	rrf := applyRRF(matches, textScored, req.RRFConstant)
	results, err := e.fetchResults(ctx, rrf, req.Limit)
	if err != nil {
		return nil, err
	}
	return &SemanticResponse{
		Results:       results,
		VectorResults: len(matches),
		TextResults:   len(textScored),
	}, nil
}

// filterScored drops import bindings, which are never embedded, and applies
// the vector filter so both sides of a hybrid search agree
func filterScored(in []types.ScoredSymbol, filter *vectorstore.Filter) []types.ScoredSymbol {
	out := in[:0:0]
	for _, s := range in {
		if s.Symbol.Kind == types.KindImport {
			continue
		}
		if filter != nil && !filter.Matches(vectorstore.Metadata{
			FilePath: s.Symbol.Location.FilePath,
			Name:     s.Symbol.Name,
			Kind:     s.Symbol.Kind,
			Language: s.Symbol.Language,
		}) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// rankedResult represents a symbol with its relevance score and rank
type rankedResult struct {
	symbolID string
	score    float64
	rank     int
}

// applyRRF applies Reciprocal Rank Fusion to combine vector and text results
// RRF formula: RRF(d) = Σ 1/(k + rank(d))
func applyRRF(vectorResults []vectorstore.Match, textResults []types.ScoredSymbol, k float64) []rankedResult {
	if k == 0 {
		k = 60
	}

	scores := make(map[string]float64)
	for rank, vr := range vectorResults {
		scores[vr.ID] += 1.0 / (k + float64(rank+1))
	}
	for rank, tr := range textResults {
		scores[tr.Symbol.ID] += 1.0 / (k + float64(rank+1))
	}

	results := make([]rankedResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, rankedResult{symbolID: id, score: score})
	}
	sortRankedResults(results)
	for i := range results {
		results[i].rank = i + 1
	}
	return results
}

// fetchResults hydrates ranked ids into symbols. Ids whose symbol has been
// removed since the vectors were written are skipped.
func (e *Engine) fetchResults(ctx context.Context, ranked []rankedResult, limit int) ([]types.ScoredSymbol, error) {
	ids := make([]string, len(ranked))
	score := make(map[string]float64, len(ranked))
	for i, rr := range ranked {
		ids[i] = rr.symbolID
		score[rr.symbolID] = rr.score
	}
	syms, err := e.store.GetSymbols(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]types.ScoredSymbol, 0, limit)
	for _, sym := range syms {
		if len(results) == limit {
			break
		}
		results = append(results, types.ScoredSymbol{Symbol: sym, Score: score[sym.ID]})
	}
	return results, nil
}

// validateSemantic ensures the request is valid and fills defaults
func (e *Engine) validateSemantic(req *SemanticRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Mode == "" {
		req.Mode = SemanticModeVector
	}
	if req.RRFConstant == 0 {
		req.RRFConstant = 60
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = time.Hour
	}
	if req.Filter != nil {
		if err := req.Filter.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (e *Engine) checkCache(key [32]byte) *SemanticResponse {
	now := time.Now()

	e.cacheMu.RLock()
	entry, found := e.cache.Get(key)
	if !found {
		e.cacheMu.RUnlock()
		return nil
	}
	if now.After(entry.expiresAt) {
		e.cacheMu.RUnlock()

		e.cacheMu.Lock()
		e.cache.Remove(key)
		e.cacheMu.Unlock()
		return nil
	}
	response := copyResponse(entry.response)
	e.cacheMu.RUnlock()
	return response
}

func (e *Engine) storeInCache(key [32]byte, response *SemanticResponse, ttl time.Duration) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(ttl),
	}
	e.cacheMu.Lock()
	e.cache.Add(key, entry)
	e.cacheMu.Unlock()
}

// InvalidateCache drops every cached semantic response
func (e *Engine) InvalidateCache() {
	e.cacheMu.Lock()
	e.cache.Purge()
	e.cacheMu.Unlock()
}

// copyResponse creates a deep copy of a SemanticResponse
func copyResponse(src *SemanticResponse) *SemanticResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.ScoredSymbol, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Symbol.Metadata != nil {
			md := make(map[string]string, len(r.Symbol.Metadata))
			for k, v := range r.Symbol.Metadata {
				md[k] = v
			}
			dst.Results[i].Symbol.Metadata = md
		}
	}
	return &dst
}

// computeQueryHash computes a unique key for a request against one index generation
func computeQueryHash(req SemanticRequest, model, generation string) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d|%.2f", req.Limit, req.RRFConstant))
	data.WriteString("|")
	data.WriteString(model)
	data.WriteString("|")
	data.WriteString(generation)

	if req.Filter != nil {
		data.WriteString("|filters:")
		data.WriteString(req.Filter.PathGlob)
		data.WriteString("|")
		kinds := make([]string, len(req.Filter.Kinds))
		for i, k := range req.Filter.Kinds {
			kinds[i] = string(k)
		}
		data.WriteString(strings.Join(kinds, ","))
		data.WriteString("|")
		data.WriteString(req.Filter.Language)
	}

	return sha256.Sum256([]byte(data.String()))
}

// sortRankedResults sorts results by score in descending order, ties by id
func sortRankedResults(results []rankedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].symbolID < results[j].symbolID
	})
}
