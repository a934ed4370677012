package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/discovery"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/fingerprint"
	"github.com/dshills/codeindex/internal/parser"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
	"github.com/dshills/codeindex/pkg/types"
)

// ErrIndexInProgress is returned when a pass is already running in this process
var ErrIndexInProgress = errors.New("indexing already in progress")

// Indexer coordinates the indexing pipeline:
// discover -> filter -> parse (parallel) -> persist (sequential) -> resolve -> save
type Indexer struct {
	cfg      *config.Config
	store    storage.Storage
	registry *parser.Registry
	cache    *fingerprint.Cache
	log      *slog.Logger

	// optional semantic side-index
	vectors  *vectorstore.Store
	embedder *embedder.Lazy

	lock IndexLock
}

// Option customizes an Indexer
type Option func(*Indexer)

// WithRegistry replaces the default parser registry
func WithRegistry(r *parser.Registry) Option {
	return func(idx *Indexer) { idx.registry = r }
}

// WithVectors enables the embedding sub-pass
func WithVectors(vs *vectorstore.Store, emb *embedder.Lazy) Option {
	return func(idx *Indexer) {
		idx.vectors = vs
		idx.embedder = emb
	}
}

// Options controls a single pass
type Options struct {
	// Full ignores fingerprints and re-parses every discovered file
	Full bool
	// Embed runs the embedding sub-pass even when semantic search is disabled in config
	Embed bool
}

// FileError records a file that failed to parse or persist
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Statistics summarizes one pass
type Statistics struct {
	FilesScanned        int           `json:"files_scanned"`
	FilesIndexed        int           `json:"files_indexed"`
	FilesSkipped        int           `json:"files_skipped"`
	FilesFailed         int           `json:"files_failed"`
	FilesDeleted        int           `json:"files_deleted"`
	SymbolsExtracted    int           `json:"symbols_extracted"`
	SymbolsRemoved      int           `json:"symbols_removed"`
	RelationsResolved   int           `json:"relations_resolved"`
	RelationsUnresolved int           `json:"relations_unresolved"`
	Embedded            int           `json:"embedded"`
	EmbedError          string        `json:"embed_error,omitempty"`
	Discovery           string        `json:"discovery"`
	Errors              []FileError   `json:"errors"`
	Duration            time.Duration `json:"duration_ns"`
}

// New creates an Indexer over an open store. The fingerprint cache lives at
// cfg.CachePath().
func New(cfg *config.Config, store storage.Storage, opts ...Option) *Indexer {
	idx := &Indexer{
		cfg:      cfg,
		store:    store,
		registry: parser.DefaultRegistry(),
		cache:    fingerprint.New(cfg.CachePath()),
		log:      cfg.Log(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// parseOutcome is what a parse worker hands to the persist loop
type parseOutcome struct {
	file      discovery.Candidate
	hash      string
	unchanged bool
	result    *types.ParseResult
	err       error
}

// Run executes one indexing pass. Per-file failures are aggregated into the
// returned statistics; an error is returned only when the pass itself cannot
// proceed or ctx is cancelled. On cancellation the statistics of the
// completed part are returned alongside the error.
func (idx *Indexer) Run(ctx context.Context, opts Options) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	stats := &Statistics{Errors: make([]FileError, 0)}

	if err := idx.cache.Load(); err != nil {
		idx.log.Warn("fingerprint cache unreadable, re-parsing all files", "path", idx.cfg.CachePath(), "error", err)
	}

	found, err := discovery.Discover(ctx, discovery.Options{
		Root:        idx.cfg.Root,
		Include:     idx.cfg.Include,
		Exclude:     idx.cfg.Exclude,
		MaxFileSize: idx.cfg.MaxFileSize,
		UseGit:      idx.cfg.UseGit,
		Logger:      idx.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesScanned = len(found.Files)
	stats.Discovery = found.Source
	idx.log.Info("index.discovered", "files", len(found.Files), "source", found.Source, "skipped", found.Skipped)

	stored, err := idx.store.FileFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored fingerprints: %w", err)
	}

	if err := idx.removeVanished(ctx, found.Files, stored, stats); err != nil {
		return nil, err
	}

	pending, callerFiles, persisted, err := idx.parseAndPersist(ctx, found.Files, stored, opts, stats)
	if err == nil {
		// Every file of the pass is persisted before any relation is resolved
		err = idx.resolveRelations(ctx, pending, callerFiles, stats)
	}
	if err != nil {
		idx.forget(ctx, persisted)
		idx.finish(ctx, stats, start)
		return stats, err
	}

	idx.finish(ctx, stats, start)

	if opts.Embed || idx.cfg.Semantic.Enabled {
		if err := idx.embedSymbols(ctx, stats); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.EmbedError = err.Error()
			idx.log.Warn("embedding pass failed", "error", err)
		}
	}

	stats.Duration = time.Since(start)
	idx.log.Info("index.done",
		"indexed", stats.FilesIndexed,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"deleted", stats.FilesDeleted,
		"symbols", stats.SymbolsExtracted,
		"relations", stats.RelationsResolved,
		"elapsed", stats.Duration)
	return stats, nil
}

// finish persists the fingerprint cache and the last-indexed timestamp. It
// also runs after an interrupted pass, once forget has dropped the files
// whose relations were not resolved.
func (idx *Indexer) finish(ctx context.Context, stats *Statistics, start time.Time) {
	if err := idx.cache.Save(); err != nil {
		idx.log.Warn("failed to save fingerprint cache", "error", err)
	}
	meta := context.WithoutCancel(ctx)
	if err := idx.store.SetMeta(meta, storage.MetaLastIndexedAt, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		idx.log.Warn("failed to record index time", "error", err)
	}
	stats.Duration = time.Since(start)
}

// forget drops the fingerprints of files persisted by an interrupted pass.
// Their outgoing edges were deleted but never re-resolved, so the next pass
// must parse them again to recollect their pending relations.
func (idx *Indexer) forget(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	for _, path := range paths {
		idx.cache.Remove(path)
	}
	if err := idx.store.ClearFingerprints(context.WithoutCancel(ctx), paths); err != nil {
		idx.log.Warn("failed to clear fingerprints of interrupted files", "files", len(paths), "error", err)
	}
	idx.log.Info("pass interrupted, files will be re-parsed", "files", len(paths))
}

// removeVanished deletes files the store knows about that discovery no longer returns
func (idx *Indexer) removeVanished(ctx context.Context, files []discovery.Candidate, stored map[string]string, stats *Statistics) error {
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f.Path] = struct{}{}
	}
	for path := range stored {
		if _, ok := present[path]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		file, err := idx.store.GetFile(ctx, path)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up vanished file %s: %w", path, err)
		}
		if err := idx.store.DeleteFile(ctx, file.ID); err != nil {
			return fmt.Errorf("failed to delete vanished file %s: %w", path, err)
		}
		idx.cache.Remove(path)
		delete(stored, path)
		stats.FilesDeleted++
		idx.log.Debug("removed vanished file", "path", path)
	}
	return nil
}

// parseAndPersist fans parsing out to a bounded worker pool and persists
// results one file at a time on the calling goroutine. It returns the
// pending relations of every persisted file, the file of each caller and
// the persisted paths. The paths are returned even when ctx is cancelled.
func (idx *Indexer) parseAndPersist(ctx context.Context, files []discovery.Candidate, stored map[string]string,
	opts Options, stats *Statistics) ([]types.PendingRelation, map[string]string, []string, error) {

	workers := idx.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	results := make(chan parseOutcome, workers)

	var g errgroup.Group
	g.SetLimit(workers)
	go func() {
		defer close(results)
		for _, f := range files {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				out := idx.parseFile(f, stored[f.Path], opts.Full)
				select {
				case results <- out:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var (
		pending   []types.PendingRelation
		persisted []string
	)
	callerFiles := make(map[string]string)
	for out := range results {
		if ctx.Err() != nil {
			// drain so workers can exit
			continue
		}
		switch {
		case out.unchanged:
			stats.FilesSkipped++
		case out.err != nil:
			idx.recordFailure(stats, out.file.Path, out.err)
		default:
			removed, err := idx.persist(ctx, out)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				idx.recordFailure(stats, out.file.Path, err)
				continue
			}
			if out.result.HasErrors() {
				idx.log.Warn("file parsed with syntax errors", "path", out.file.Path, "error", out.result.Errors[0].Message)
			}
			idx.cache.Update(out.file.Path, out.hash)
			persisted = append(persisted, out.file.Path)
			stats.FilesIndexed++
			stats.SymbolsExtracted += len(out.result.Symbols)
			stats.SymbolsRemoved += removed
			for _, sym := range out.result.Symbols {
				callerFiles[sym.ID] = out.file.Path
			}
			pending = append(pending, out.result.Pending...)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, persisted, err
	}
	return pending, callerFiles, persisted, nil
}

// parseFile reads, fingerprints and parses one file. A file is skipped only
// when both the cache and the store agree on its current fingerprint.
func (idx *Indexer) parseFile(f discovery.Candidate, storedHash string, full bool) parseOutcome {
	out := parseOutcome{file: f}
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		out.err = fmt.Errorf("read: %w", err)
		return out
	}
	out.hash = fingerprint.Sum(content)

	if !full {
		if cached, ok := idx.cache.Get(f.Path); ok && cached == out.hash && storedHash == out.hash {
			out.unchanged = true
			return out
		}
	}

	result, err := idx.registry.Parse(f.Path, content)
	if err != nil {
		out.err = err
		return out
	}
	result.File.Fingerprint = out.hash
	result.File.IndexedAt = time.Now().UTC()
	out.result = result
	return out
}

// persist writes one parsed file atomically: file record, current symbols,
// then removal of symbols that disappeared and of the file's outgoing edges,
// which resolution re-creates. Incoming edges to surviving symbols are kept.
func (idx *Indexer) persist(ctx context.Context, out parseOutcome) (int, error) {
	var removed int
	err := storage.InTx(ctx, idx.store, func(tx storage.Tx) error {
		fileID, err := tx.UpsertFile(ctx, &out.result.File)
		if err != nil {
			return err
		}
		keep := make([]string, 0, len(out.result.Symbols))
		for i := range out.result.Symbols {
			sym := &out.result.Symbols[i]
			if err := tx.UpsertSymbol(ctx, fileID, sym); err != nil {
				return err
			}
			keep = append(keep, sym.ID)
		}
		removed, err = tx.PruneSymbolsOfFile(ctx, fileID, keep)
		if err != nil {
			return err
		}
		return tx.DeleteRelationsFromFile(ctx, fileID)
	})
	if err != nil {
		var integrity *storage.IntegrityError
		if errors.As(err, &integrity) {
			idx.log.Error("referential integrity violation",
				"op", integrity.Op, "file", out.file.Path, "symbol", integrity.SymbolID, "error", err)
		}
		return 0, err
	}
	return removed, nil
}

func (idx *Indexer) recordFailure(stats *Statistics, path string, err error) {
	stats.FilesFailed++
	stats.Errors = append(stats.Errors, FileError{Path: path, Error: err.Error()})
	idx.log.Warn("failed to index file", "path", path, "error", err)
}

// CachePath returns where the fingerprint cache is persisted
func (idx *Indexer) CachePath() string {
	return idx.cfg.CachePath()
}
