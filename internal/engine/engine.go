package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/query"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
)

var (
	// ErrNotInitialized is returned by verbs that need an index when none exists
	ErrNotInitialized = errors.New("project is not initialized")

	// ErrInitIncomplete is returned when the last init never reached the ready state
	ErrInitIncomplete = fmt.Errorf("%w: the last init did not complete", ErrNotInitialized)

	// ErrIndexNotFound is returned when the state directory survives but the index database does not
	ErrIndexNotFound = errors.New("index database not found")

	// ErrAlreadyInitialized is returned by init without force on a ready index
	ErrAlreadyInitialized = errors.New("project is already initialized")

	// ErrInvalidParams is returned for missing or malformed verb parameters
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrUnknownVerb is returned by Execute for verbs it does not know
	ErrUnknownVerb = errors.New("unknown verb")

	// ErrSymbolSearch wraps store failures of symbol lookups
	ErrSymbolSearch = errors.New("symbol search failed")
)

// StateUninitialized is reported for projects with no index database
const StateUninitialized = "uninitialized"

// Engine is the command surface of one project: it owns the stores, the
// indexer and the query engine, enforces the index lifecycle and the
// cross-process lock, and turns verbs into result envelopes.
type Engine struct {
	cfg  *config.Config
	log  *slog.Logger
	lazy *embedder.Lazy

	// life is held exclusively by init, which may wipe the stores, and
	// shared by every other verb
	life sync.RWMutex

	// mu guards the lazily opened components below
	mu      sync.Mutex
	store   storage.Storage
	vectors *vectorstore.Store
	idx     *indexer.Indexer
	query   *query.Engine
}

// New creates the engine for cfg.Root. Stores are opened on first use.
func New(cfg *config.Config) *Engine {
	e := &Engine{
		cfg: cfg,
		log: cfg.Log().With("component", "engine"),
	}
	e.lazy = embedder.NewLazy(e.buildEmbedder)
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// buildEmbedder runs at most once, on the first embedding or semantic query
func (e *Engine) buildEmbedder() (embedder.Embedder, error) {
	sc := e.cfg.Semantic
	emb, err := embedder.New(embedder.ConfigFromEnv(embedder.Config{
		Provider:  sc.Provider,
		Model:     sc.Model,
		BaseURL:   sc.OllamaURL,
		CacheSize: sc.CacheSize,
	}))
	if err != nil {
		return nil, err
	}
	e.log.Info("embedder loaded", "provider", emb.Provider(), "model", emb.Model(), "dimensions", emb.Dimensions())
	return emb, nil
}

// Close releases the stores and the embedder
func (e *Engine) Close() error {
	e.life.Lock()
	defer e.life.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.closeStoresLocked(), e.lazy.Close())
}

func (e *Engine) closeStoresLocked() error {
	var errs []error
	if e.vectors != nil {
		errs = append(errs, e.vectors.Close())
		e.vectors = nil
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
		e.store = nil
	}
	e.idx, e.query = nil, nil
	return errors.Join(errs...)
}

// components opens the relational store, and the vector store when
// withVectors is set, and returns the indexer and query engine wired to them
func (e *Engine) components(withVectors bool) (*indexer.Indexer, *query.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		if err := os.MkdirAll(e.cfg.StatePath(), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create state dir: %w", err)
		}
		st, err := storage.NewSQLiteStorage(e.cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		e.store = st
		e.idx, e.query = nil, nil
	}
	if withVectors && e.vectors == nil {
		vs, err := vectorstore.OpenDir(e.cfg.VectorDir())
		if err != nil {
			return nil, nil, err
		}
		e.vectors = vs
		e.idx, e.query = nil, nil
	}
	if e.idx == nil {
		var (
			iopts []indexer.Option
			qopts []query.Option
		)
		if e.vectors != nil {
			iopts = append(iopts, indexer.WithVectors(e.vectors, e.lazy))
			qopts = append(qopts, query.WithVectors(e.vectors, e.lazy))
		}
		e.idx = indexer.New(e.cfg, e.store, iopts...)
		e.query = query.New(e.cfg, e.store, qopts...)
	}
	return e.idx, e.query, nil
}

// storage returns the open relational store
func (e *Engine) storage() (storage.Storage, error) {
	if _, _, err := e.components(false); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store, nil
}

// wantVectors reports whether the vector store should be opened: semantic
// search is enabled, embedding was requested, or vectors already exist
func (e *Engine) wantVectors(embed bool) bool {
	if embed || e.cfg.Semantic.Enabled {
		return true
	}
	_, err := os.Stat(e.cfg.VectorDir())
	return err == nil
}

// State returns the index lifecycle state without creating anything
func (e *Engine) State(ctx context.Context) (string, error) {
	if _, err := os.Stat(e.cfg.DBPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateUninitialized, nil
		}
		return "", err
	}
	store, err := e.storage()
	if err != nil {
		return "", err
	}
	state, err := store.GetMeta(ctx, storage.MetaState)
	if errors.Is(err, storage.ErrNotFound) {
		// a database without a lifecycle record never finished init
		return storage.StateInitializing, nil
	}
	return state, err
}

// requireReady fails with a state error unless the index is ready
func (e *Engine) requireReady(ctx context.Context) error {
	state, err := e.State(ctx)
	if err != nil {
		return err
	}
	switch state {
	case storage.StateReady:
		return nil
	case storage.StateInitializing:
		return ErrInitIncomplete
	}
	if _, err := os.Stat(e.cfg.CachePath()); err == nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, e.cfg.DBPath())
	}
	return ErrNotInitialized
}

// resetLocked closes the stores and deletes every derived artifact of the
// state directory. Configuration and the lock file are kept.
func (e *Engine) resetLocked() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.closeStoresLocked(); err != nil {
		e.log.Warn("closing stores before reset", "error", err)
	}
	db := e.cfg.DBPath()
	for _, path := range []string{db, db + "-wal", db + "-shm", e.cfg.CachePath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	if err := os.RemoveAll(e.cfg.VectorDir()); err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}
	return nil
}

// InitOptions controls the init verb
type InitOptions struct {
	Force bool // rebuild an existing index from scratch
	Embed bool // run the embedding sub-pass
}

// Init performs the first full scan of the project. It fails with
// ErrAlreadyInitialized on a ready index unless opts.Force is set. The index
// stays in the initializing state until the pass completes, so a crashed
// init is reported instead of served.
func (e *Engine) Init(ctx context.Context, opts InitOptions) (*indexer.Statistics, error) {
	e.life.Lock()
	defer e.life.Unlock()

	if err := os.MkdirAll(e.cfg.StatePath(), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lock, err := AcquireLock(e.cfg.LockPath(), e.log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	state, err := e.State(ctx)
	if err != nil {
		return nil, err
	}
	if state == storage.StateReady && !opts.Force {
		return nil, ErrAlreadyInitialized
	}
	if state != StateUninitialized || opts.Force {
		e.log.Info("resetting index", "previous_state", state, "force", opts.Force)
		if err := e.resetLocked(); err != nil {
			return nil, err
		}
	}

	idx, q, err := e.components(e.wantVectors(opts.Embed))
	if err != nil {
		return nil, err
	}
	store, err := e.storage()
	if err != nil {
		return nil, err
	}
	if err := store.SetMeta(ctx, storage.MetaState, storage.StateInitializing); err != nil {
		return nil, err
	}

	stats, err := idx.Run(ctx, indexer.Options{Full: true, Embed: opts.Embed})
	if err != nil {
		return stats, err
	}
	if err := store.SetMeta(ctx, storage.MetaState, storage.StateReady); err != nil {
		return stats, err
	}
	q.InvalidateCache()
	e.log.Info("project initialized", "root", e.cfg.Root, "files", stats.FilesIndexed, "symbols", stats.SymbolsExtracted)
	return stats, nil
}

// UpdateOptions controls the update verb
type UpdateOptions struct {
	Full  bool // ignore fingerprints
	Embed bool // run the embedding sub-pass
}

// Update runs an incremental pass over a ready index
func (e *Engine) Update(ctx context.Context, opts UpdateOptions) (*indexer.Statistics, error) {
	e.life.RLock()
	defer e.life.RUnlock()

	if err := e.requireReady(ctx); err != nil {
		return nil, err
	}
	lock, err := AcquireLock(e.cfg.LockPath(), e.log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	idx, q, err := e.components(e.wantVectors(opts.Embed))
	if err != nil {
		return nil, err
	}
	stats, err := idx.Run(ctx, indexer.Options{Full: opts.Full, Embed: opts.Embed})
	q.InvalidateCache()
	return stats, err
}

// reader returns the query engine of a ready index
func (e *Engine) reader(ctx context.Context) (*query.Engine, error) {
	if err := e.requireReady(ctx); err != nil {
		return nil, err
	}
	_, q, err := e.components(e.wantVectors(false))
	return q, err
}
