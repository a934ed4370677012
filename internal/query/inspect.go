package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

// FileDetail is the full record of an indexed file
type FileDetail struct {
	File    *storage.File  `json:"file"`
	Symbols []types.Symbol `json:"symbols"`
}

// RelatedSymbol is one end of a relation seen from an inspected symbol.
// Symbol is nil if the other end could not be loaded.
type RelatedSymbol struct {
	Relation types.Relation `json:"relation"`
	Symbol   *types.Symbol  `json:"symbol,omitempty"`
}

// SymbolDetail is the full record of a symbol with both edge directions
type SymbolDetail struct {
	Symbol   types.Symbol    `json:"symbol"`
	Incoming []RelatedSymbol `json:"incoming"`
	Outgoing []RelatedSymbol `json:"outgoing"`
}

// Detail is the result of Inspect; exactly one field is set
type Detail struct {
	File   *FileDetail   `json:"file,omitempty"`
	Symbol *SymbolDetail `json:"symbol,omitempty"`
}

// Inspect returns the full detail of a file path, a symbol id or an exact
// symbol name, tried in that order
func (e *Engine) Inspect(ctx context.Context, target string) (*Detail, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: file path or symbol id is required", ErrInvalidQuery)
	}

	fd, err := e.InspectFile(ctx, target)
	if err == nil {
		return &Detail{File: fd}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	sd, err := e.InspectSymbol(ctx, target)
	if err == nil {
		return &Detail{Symbol: sd}, nil
	}
	if errors.Is(err, ErrSymbolNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}
	return nil, err
}

// InspectFile returns a file record and its symbols in source order
func (e *Engine) InspectFile(ctx context.Context, path string) (*FileDetail, error) {
	path = filepath.ToSlash(filepath.Clean(path))
	f, err := e.store.GetFile(ctx, strings.TrimPrefix(path, "./"))
	if err != nil {
		return nil, err
	}
	syms, err := e.store.ListSymbolsByFile(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if syms == nil {
		syms = []types.Symbol{}
	}
	return &FileDetail{File: f, Symbols: syms}, nil
}

// InspectSymbol returns a symbol and the symbols on the other end of its relations
func (e *Engine) InspectSymbol(ctx context.Context, ref string) (*SymbolDetail, error) {
	sym, err := e.resolveSymbol(ctx, ref)
	if err != nil {
		return nil, err
	}
	in, err := e.related(ctx, sym.ID, types.DirectionIn)
	if err != nil {
		return nil, err
	}
	out, err := e.related(ctx, sym.ID, types.DirectionOut)
	if err != nil {
		return nil, err
	}
	return &SymbolDetail{Symbol: *sym, Incoming: in, Outgoing: out}, nil
}

func (e *Engine) related(ctx context.Context, id string, dir types.Direction) ([]RelatedSymbol, error) {
	rels, err := e.store.GetRelations(ctx, id, dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rels))
	for i, rel := range rels {
		ids[i] = rel.TargetID
		if dir == types.DirectionIn {
			ids[i] = rel.SourceID
		}
	}
	syms, err := e.store.GetSymbols(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Symbol, len(syms))
	for i := range syms {
		byID[syms[i].ID] = &syms[i]
	}

	out := make([]RelatedSymbol, len(rels))
	for i, rel := range rels {
		out[i] = RelatedSymbol{Relation: rel, Symbol: byID[ids[i]]}
	}
	return out, nil
}
