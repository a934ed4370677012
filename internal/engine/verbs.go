package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dshills/codeindex/internal/query"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/textsearch"
	"github.com/dshills/codeindex/internal/vectorstore"
	"github.com/dshills/codeindex/pkg/types"
)

// Verbs accepted by Execute
const (
	VerbInit     = "init"
	VerbUpdate   = "update"
	VerbSearch   = "search"
	VerbFind     = "find"
	VerbSymbol   = "symbol"
	VerbInspect  = "inspect"
	VerbGraph    = "graph"
	VerbSemantic = "semantic"
	VerbStatus   = "status"
)

var verbs = []string{
	VerbInit, VerbUpdate, VerbSearch, VerbFind, VerbSymbol,
	VerbInspect, VerbGraph, VerbSemantic, VerbStatus,
}

// Verbs lists every verb in a stable order
func Verbs() []string {
	return slices.Clone(verbs)
}

func verbList() string {
	return strings.Join(verbs, ", ")
}

type handler func(ctx context.Context, p Params) (*outcome, error)

func (e *Engine) handler(verb string) (handler, bool) {
	switch verb {
	case VerbInit:
		return e.handleInit, true
	case VerbUpdate:
		return e.handleUpdate, true
	case VerbSearch:
		return e.handleSearch, true
	case VerbFind:
		return e.handleFind, true
	case VerbSymbol:
		return e.handleSymbol, true
	case VerbInspect:
		return e.handleInspect, true
	case VerbGraph:
		return e.handleGraph, true
	case VerbSemantic:
		return e.handleSemantic, true
	case VerbStatus:
		return e.handleStatus, true
	}
	return nil, false
}

// Execute runs one verb and wraps its result, or its error, in an envelope.
// It never returns nil.
func (e *Engine) Execute(ctx context.Context, verb string, params Params) *Envelope {
	start := time.Now()
	name := strings.ToLower(strings.TrimSpace(verb))
	h, ok := e.handler(name)
	if !ok {
		return Failure(fmt.Errorf("%w: %q", ErrUnknownVerb, verb))
	}
	if params == nil {
		params = Params{}
	}

	out, err := h(ctx, params)
	if err != nil {
		info := Classify(err)
		level := slog.LevelWarn
		if info.Code == CodeInternal || info.Code == CodeReferentialIntegrity {
			level = slog.LevelError
		}
		e.log.Log(ctx, level, "verb failed", "verb", name, "code", info.Code, "error", err)
		return &Envelope{Success: false, Error: info}
	}
	elapsed := time.Since(start)
	e.log.Debug("verb done", "verb", name, "count", out.count, "elapsed", elapsed)
	return success(out, elapsed)
}

// single wraps a one-object result
func single(v any, mode string) *outcome {
	return &outcome{results: []any{v}, count: 1, mode: mode}
}

func (e *Engine) handleInit(ctx context.Context, p Params) (*outcome, error) {
	stats, err := e.Init(ctx, InitOptions{
		Force: p.Bool("force", false),
		Embed: p.Bool("embed", false),
	})
	if err != nil {
		return nil, err
	}
	return single(stats, "full"), nil
}

func (e *Engine) handleUpdate(ctx context.Context, p Params) (*outcome, error) {
	opts := UpdateOptions{
		Full:  p.Bool("full", false),
		Embed: p.Bool("embed", false),
	}
	stats, err := e.Update(ctx, opts)
	if err != nil {
		return nil, err
	}
	mode := "incremental"
	if opts.Full {
		mode = "full"
	}
	return single(stats, mode), nil
}

// Search runs a raw content search. It does not need an index.
func (e *Engine) Search(ctx context.Context, opts textsearch.Options) (*textsearch.Result, error) {
	opts.Root = e.cfg.Root
	opts.Exclude = e.cfg.Exclude
	opts.MaxFileSize = e.cfg.MaxFileSize
	opts.UseGit = e.cfg.UseGit
	opts.RipgrepPath = e.cfg.Search.RipgrepPath
	opts.Logger = e.log
	return textsearch.Search(ctx, opts)
}

func (e *Engine) handleSearch(ctx context.Context, p Params) (*outcome, error) {
	q, err := p.Require("query")
	if err != nil {
		return nil, err
	}
	res, err := e.Search(ctx, textsearch.Options{
		Query:        q,
		Regex:        p.Bool("regex", false),
		IgnoreCase:   p.Bool("ignore_case", false),
		PathFilter:   p.First("path_filter", "path"),
		ContextLines: p.Int("context_lines", e.cfg.Search.ContextLines),
		Limit:        p.Int("limit", e.cfg.Search.DefaultLimit),
	})
	if err != nil {
		return nil, err
	}
	return &outcome{results: res.Matches, count: len(res.Matches), mode: res.Backend, truncated: res.Truncated}, nil
}

// FindFiles lists project files matching a glob. It does not need an index.
func (e *Engine) FindFiles(ctx context.Context, pattern string, limit int) (*textsearch.FindResult, error) {
	return textsearch.Find(ctx, textsearch.FindOptions{
		Root:    e.cfg.Root,
		Pattern: pattern,
		Limit:   limit,
		Exclude: e.cfg.Exclude,
		UseGit:  e.cfg.UseGit,
		Logger:  e.log,
	})
}

func (e *Engine) handleFind(ctx context.Context, p Params) (*outcome, error) {
	pattern, err := p.Require("pattern")
	if err != nil {
		return nil, err
	}
	res, err := e.FindFiles(ctx, pattern, p.Int("limit", e.cfg.Search.DefaultLimit))
	if err != nil {
		return nil, err
	}
	return &outcome{results: res.Files, count: len(res.Files), mode: "glob", truncated: res.Truncated}, nil
}

// Symbol looks up symbols by name in a ready index
func (e *Engine) Symbol(ctx context.Context, req query.FindRequest) ([]query.SymbolMatch, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	q, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := q.FindSymbol(ctx, req)
	if err != nil && !isInputError(err) {
		return nil, fmt.Errorf("%w: %w", ErrSymbolSearch, err)
	}
	return matches, err
}

func (e *Engine) handleSymbol(ctx context.Context, p Params) (*outcome, error) {
	name, err := p.Require("name")
	if err != nil {
		return nil, err
	}
	mode, err := query.ParseMatchMode(p.String("mode", ""))
	if err != nil {
		return nil, err
	}
	var kinds []types.SymbolKind
	for _, k := range p.Strings("type") {
		kind, err := types.ParseSymbolKind(strings.ToLower(k))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, k)
		}
		kinds = append(kinds, kind)
	}
	matches, err := e.Symbol(ctx, query.FindRequest{
		Name:             name,
		Mode:             mode,
		Kinds:            kinds,
		Limit:            p.Int("limit", e.cfg.Search.DefaultLimit),
		IncludeRelations: p.Bool("include_relations", false),
	})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []query.SymbolMatch{}
	}
	return &outcome{results: matches, count: len(matches), mode: string(mode)}, nil
}

// Inspect returns the full detail of a file or symbol in a ready index
func (e *Engine) Inspect(ctx context.Context, target string) (*query.Detail, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	q, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	return q.Inspect(ctx, target)
}

func (e *Engine) handleInspect(ctx context.Context, p Params) (*outcome, error) {
	target := p.First("target", "file", "symbol_id", "symbol")
	if target == "" {
		return nil, fmt.Errorf("%w: target is required (a file path or symbol id)", ErrInvalidParams)
	}
	detail, err := e.Inspect(ctx, target)
	if err != nil {
		return nil, err
	}
	mode := "symbol"
	if detail.File != nil {
		mode = "file"
	}
	return single(detail, mode), nil
}

// Graph traverses relations from a symbol in a ready index
func (e *Engine) Graph(ctx context.Context, req query.GraphRequest) (*query.Graph, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	q, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	return q.Graph(ctx, req)
}

func (e *Engine) handleGraph(ctx context.Context, p Params) (*outcome, error) {
	symbol := p.First("symbol", "name")
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidParams)
	}
	dir, err := types.ParseDirection(strings.ToLower(p.String("direction", "callees")))
	if err != nil {
		return nil, err
	}
	var relTypes []types.RelationType
	for _, t := range p.Strings("types") {
		rt := types.RelationType(strings.ToLower(t))
		if !rt.Valid() {
			return nil, fmt.Errorf("%w: unknown relation type %q", ErrInvalidParams, t)
		}
		relTypes = append(relTypes, rt)
	}
	g, err := e.Graph(ctx, query.GraphRequest{
		Symbol:    symbol,
		Depth:     p.Int("depth", query.DefaultDepth),
		Direction: dir,
		Types:     relTypes,
	})
	if err != nil {
		return nil, err
	}
	return single(g, string(g.Direction)), nil
}

// Semantic runs an embedding similarity search in a ready index
func (e *Engine) Semantic(ctx context.Context, req query.SemanticRequest) (*query.SemanticResponse, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	q, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	return q.SemanticSearch(ctx, req)
}

func (e *Engine) handleSemantic(ctx context.Context, p Params) (*outcome, error) {
	text, err := p.Require("query")
	if err != nil {
		return nil, err
	}
	mode := query.SemanticMode(strings.ToLower(p.String("mode", string(query.SemanticModeVector))))
	if mode != query.SemanticModeVector && mode != query.SemanticModeHybrid {
		return nil, fmt.Errorf("%w: unknown semantic mode %q (expected vector or hybrid)", ErrInvalidParams, mode)
	}
	var filter *vectorstore.Filter
	kinds := p.Strings("type")
	if len(kinds) > 0 || p.String("language", "") != "" || p.String("path_filter", "") != "" {
		filter = &vectorstore.Filter{
			PathGlob: p.String("path_filter", ""),
			Language: p.String("language", ""),
		}
		for _, k := range kinds {
			kind, err := types.ParseSymbolKind(strings.ToLower(k))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", err, k)
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}
	resp, err := e.Semantic(ctx, query.SemanticRequest{
		Query:    text,
		Limit:    p.Int("limit", 10),
		Mode:     mode,
		Filter:   filter,
		UseCache: p.Bool("use_cache", true),
	})
	if err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []types.ScoredSymbol{}
	}
	return &outcome{results: resp.Results, count: len(resp.Results), mode: string(resp.Mode)}, nil
}

// SemanticStatus describes the optional vector index
type SemanticStatus struct {
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Vectors   int    `json:"vectors"`
	Model     string `json:"model,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BuildInfo describes the compiled storage backends
type BuildInfo struct {
	Mode            string `json:"mode"`
	Driver          string `json:"driver"`
	VectorExtension bool   `json:"vector_extension"`
}

// Status is the result of the status verb
type Status struct {
	Root          string         `json:"root"`
	State         string         `json:"state"`
	Locked        bool           `json:"locked"`
	Stats         *storage.Stats `json:"stats,omitempty"`
	LastIndexedAt *time.Time     `json:"last_indexed_at,omitempty"`
	Semantic      SemanticStatus `json:"semantic"`
	Build         BuildInfo      `json:"build"`
}

// Status reports the lifecycle state, statistics and semantic availability.
// It succeeds on uninitialized projects.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.life.RLock()
	defer e.life.RUnlock()

	st := &Status{
		Root:   e.cfg.Root,
		Locked: lockHeld(e.cfg.LockPath()),
		Semantic: SemanticStatus{
			Enabled: e.cfg.Semantic.Enabled,
		},
		Build: BuildInfo{
			Mode:            storage.BuildMode,
			Driver:          storage.DriverName,
			VectorExtension: vectorstore.ExtensionAvailable,
		},
	}
	state, err := e.State(ctx)
	if err != nil {
		return nil, err
	}
	st.State = state
	if state == StateUninitialized {
		st.Semantic.Reason = ErrNotInitialized.Error()
		return st, nil
	}

	_, q, err := e.components(e.wantVectors(false))
	if err != nil {
		return nil, err
	}
	store, err := e.storage()
	if err != nil {
		return nil, err
	}
	if st.Stats, err = store.Stats(ctx); err != nil {
		return nil, err
	}
	st.LastIndexedAt = st.Stats.LastIndexedAt

	if err := e.semanticStatus(ctx, q, &st.Semantic); err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) semanticStatus(ctx context.Context, q *query.Engine, ss *SemanticStatus) error {
	e.mu.Lock()
	vs := e.vectors
	e.mu.Unlock()
	if vs != nil {
		n, err := vs.Count(ctx)
		if err != nil {
			return err
		}
		ss.Vectors = n
		if ss.Model, err = vs.Model(ctx); err != nil {
			return err
		}
	}
	err := q.SemanticAvailable(ctx)
	switch {
	case err == nil:
		ss.Available = true
	case errors.Is(err, query.ErrSemanticUnavailable):
		ss.Reason = err.Error()
	default:
		return err
	}
	return nil
}

func (e *Engine) handleStatus(ctx context.Context, _ Params) (*outcome, error) {
	st, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}
	return single(st, st.State), nil
}

func isInputError(err error) bool {
	return errors.Is(err, query.ErrInvalidQuery) ||
		errors.Is(err, types.ErrInvalidKind) ||
		errors.Is(err, query.ErrSymbolNotFound)
}
