package query

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
)

var (
	// ErrSymbolNotFound is returned when a named symbol does not exist in the index
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrTargetNotFound is returned by Inspect when neither a file nor a symbol matches
	ErrTargetNotFound = errors.New("no file or symbol matches target")

	// ErrSemanticUnavailable is returned when semantic search cannot be served:
	// no vector store, no vectors yet, or vectors from a different model
	ErrSemanticUnavailable = errors.New("semantic search unavailable")

	// ErrInvalidQuery is returned for malformed requests
	ErrInvalidQuery = errors.New("invalid query")
)

// Limits applied to every request
const (
	MaxLimit     = 500
	MaxDepth     = 10
	DefaultDepth = 1
)

// semanticCacheSize bounds the number of cached semantic responses
const semanticCacheSize = 1000

// Engine answers read-only questions about the index. Each call is
// stateless with respect to the index; only semantic responses are cached,
// keyed by the last indexing time so any new pass invalidates them.
type Engine struct {
	cfg      *config.Config
	store    storage.Storage
	vectors  *vectorstore.Store
	embedder *embedder.Lazy
	log      *slog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithVectors enables semantic search against vs using the lazily built embedder
func WithVectors(vs *vectorstore.Store, lazy *embedder.Lazy) Option {
	return func(e *Engine) {
		e.vectors = vs
		e.embedder = lazy
	}
}

// New creates a query engine over store
func New(cfg *config.Config, store storage.Storage, opts ...Option) *Engine {
	cache, err := lru.New[[32]byte, *cacheEntry](semanticCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	e := &Engine{
		cfg:   cfg,
		store: store,
		log:   cfg.Log().With("component", "query"),
		cache: cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) limit(n int) int {
	if n <= 0 {
		n = e.cfg.Search.DefaultLimit
	}
	if n <= 0 {
		n = config.DefaultSearchLimit
	}
	if n > MaxLimit {
		n = MaxLimit
	}
	return n
}
