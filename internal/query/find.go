package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

// MatchMode selects how FindSymbol compares names
type MatchMode string

const (
	MatchExact MatchMode = "exact"
	MatchFuzzy MatchMode = "fuzzy"
)

// ParseMatchMode maps user input to a MatchMode, defaulting to exact
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchExact:
		return MatchExact, nil
	case MatchFuzzy:
		return MatchFuzzy, nil
	default:
		return "", fmt.Errorf("%w: unknown match mode %q (expected exact or fuzzy)", ErrInvalidQuery, s)
	}
}

// FindRequest describes a structural symbol lookup
type FindRequest struct {
	Name             string
	Mode             MatchMode
	Kinds            []types.SymbolKind
	Limit            int
	IncludeRelations bool
}

// SymbolMatch is a symbol returned by FindSymbol
type SymbolMatch struct {
	types.Symbol
	Score    float64          `json:"score"`
	Incoming []types.Relation `json:"incoming,omitempty"`
	Outgoing []types.Relation `json:"outgoing,omitempty"`
}

// FindSymbol looks up symbols by name. Exact mode matches the qualified or
// short name; fuzzy mode ranks candidates from the text-search index by name
// similarity and drops those below the configured threshold.
func (e *Engine) FindSymbol(ctx context.Context, req FindRequest) ([]SymbolMatch, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: symbol name is required", ErrInvalidQuery)
	}
	if req.Mode == "" {
		req.Mode = MatchExact
	}
	kinds := make([]types.SymbolKind, len(req.Kinds))
	for i, k := range req.Kinds {
		kind, err := types.ParseSymbolKind(string(k))
		if err != nil {
			return nil, err
		}
		kinds[i] = kind
	}
	req.Kinds = kinds
	limit := e.limit(req.Limit)

	var matches []SymbolMatch
	switch req.Mode {
	case MatchExact:
		// Over-fetch so kind filtering does not starve the result
		syms, err := e.store.FindSymbolsByName(ctx, name, true, fetchLimit(limit, req.Kinds))
		if err != nil {
			return nil, err
		}
		for _, sym := range syms {
			if kindAllowed(sym.Kind, req.Kinds) {
				matches = append(matches, SymbolMatch{Symbol: sym, Score: 1})
			}
		}
	case MatchFuzzy:
		scored, err := e.store.SearchSymbols(ctx, name, fetchLimit(limit, req.Kinds))
		if err != nil {
			return nil, err
		}
		threshold := e.cfg.Search.FuzzyThreshold
		for _, s := range scored {
			if s.Score < threshold || !kindAllowed(s.Symbol.Kind, req.Kinds) {
				continue
			}
			matches = append(matches, SymbolMatch{Symbol: s.Symbol, Score: s.Score})
		}
	default:
		return nil, fmt.Errorf("%w: unknown match mode %q", ErrInvalidQuery, req.Mode)
	}

	if len(matches) > limit {
		matches = matches[:limit]
	}
	if req.IncludeRelations {
		for i := range matches {
			var err error
			if matches[i].Incoming, err = e.store.GetRelations(ctx, matches[i].ID, types.DirectionIn); err != nil {
				return nil, err
			}
			if matches[i].Outgoing, err = e.store.GetRelations(ctx, matches[i].ID, types.DirectionOut); err != nil {
				return nil, err
			}
		}
	}
	e.log.Debug("find_symbol", "name", name, "mode", req.Mode, "results", len(matches))
	return matches, nil
}

func fetchLimit(limit int, kinds []types.SymbolKind) int {
	if len(kinds) == 0 {
		return limit
	}
	return limit * 4
}

func kindAllowed(kind types.SymbolKind, kinds []types.SymbolKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// resolveSymbol finds the symbol a user-supplied reference points to. A
// symbol id wins, then an exact name. Import bindings are skipped when a
// definition with the same name exists.
func (e *Engine) resolveSymbol(ctx context.Context, ref string) (*types.Symbol, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidQuery)
	}
	sym, err := e.store.GetSymbol(ctx, ref)
	if err == nil {
		return sym, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	syms, err := e.store.FindSymbolsByName(ctx, ref, true, 20)
	if err != nil {
		return nil, err
	}
	for i := range syms {
		if syms[i].Kind != types.KindImport {
			return &syms[i], nil
		}
	}
	if len(syms) > 0 {
		return &syms[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, ref)
}
