package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

// resolveBatch is how many pending relations share one transaction
const resolveBatch = 500

// candidateLimit bounds each name lookup during resolution
const candidateLimit = 50

// acceptedKinds lists, per relation type, the target kinds in preference order.
// Kinds not listed never satisfy the relation.
var acceptedKinds = map[types.RelationType][]types.SymbolKind{
	types.RelationCalls:      {types.KindFunction, types.KindMethod, types.KindClass, types.KindVariable},
	types.RelationImports:    {types.KindModule},
	types.RelationExtends:    {types.KindClass, types.KindInterface},
	types.RelationImplements: {types.KindInterface, types.KindClass},
}

func kindRank(rt types.RelationType, kind types.SymbolKind) int {
	for i, k := range acceptedKinds[rt] {
		if k == kind {
			return i
		}
	}
	return -1
}

// resolver turns pending callee names into symbol ids. Lookups are memoized
// per (name, relation type, caller file) for the duration of one pass.
type resolver struct {
	threshold float64
	memo      map[string]string
}

func newResolver(threshold float64) *resolver {
	return &resolver{threshold: threshold, memo: make(map[string]string)}
}

type candidate struct {
	sym   types.Symbol
	score float64
}

// resolve finds the target of p: exact name, then the last name segment,
// then Jaro-Winkler similarity at or above the threshold. Ties go to the
// preferred kind, then the caller's own file, then the smallest id.
func (r *resolver) resolve(ctx context.Context, store storage.Storage, p types.PendingRelation, callerFile string) (string, error) {
	key := string(p.Type) + "\x00" + p.CalleeName + "\x00" + callerFile
	if id, ok := r.memo[key]; ok {
		return id, nil
	}

	id, err := r.lookup(ctx, store, p, callerFile)
	if err != nil {
		return "", err
	}
	r.memo[key] = id
	return id, nil
}

func (r *resolver) lookup(ctx context.Context, store storage.Storage, p types.PendingRelation, callerFile string) (string, error) {
	name := strings.TrimSpace(p.CalleeName)
	if name == "" {
		return "", nil
	}

	names := []string{name}
	if short := lastSegment(name); short != name {
		names = append(names, short)
	}
	for _, n := range names {
		syms, err := store.FindSymbolsByName(ctx, n, true, candidateLimit)
		if err != nil {
			return "", err
		}
		cands := make([]candidate, len(syms))
		for i, s := range syms {
			cands[i] = candidate{sym: s, score: 1}
		}
		if id := r.choose(cands, p, callerFile); id != "" {
			return id, nil
		}
	}

	short := names[len(names)-1]
	scored, err := store.SearchSymbols(ctx, short, candidateLimit)
	if err != nil {
		return "", err
	}
	var cands []candidate
	for _, s := range scored {
		if score := storage.NameSimilarity(short, s.Symbol); score >= r.threshold {
			cands = append(cands, candidate{sym: s.Symbol, score: score})
		}
	}
	return r.choose(cands, p, callerFile), nil
}

func (r *resolver) choose(cands []candidate, p types.PendingRelation, callerFile string) string {
	filtered := cands[:0]
	for _, c := range cands {
		if kindRank(p.Type, c.sym.Kind) < 0 {
			continue
		}
		if p.Type != types.RelationCalls && c.sym.ID == p.CallerID {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return ""
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ra, rb := kindRank(p.Type, a.sym.Kind), kindRank(p.Type, b.sym.Kind); ra != rb {
			return ra < rb
		}
		if sa, sb := a.sym.Location.FilePath == callerFile, b.sym.Location.FilePath == callerFile; sa != sb {
			return sa
		}
		return a.sym.ID < b.sym.ID
	})
	return filtered[0].sym.ID
}

func lastSegment(name string) string {
	if i := strings.LastIndexAny(name, ".:/"); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}

// resolveRelations runs after every file of the pass is persisted. Misses
// are expected (external or not-yet-indexed symbols) and only logged.
func (idx *Indexer) resolveRelations(ctx context.Context, pending []types.PendingRelation, callerFiles map[string]string, stats *Statistics) error {
	if len(pending) == 0 {
		return nil
	}
	r := newResolver(idx.cfg.ResolveThreshold)

	for start := 0; start < len(pending); start += resolveBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + resolveBatch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var resolved, unresolved int
		err := storage.InTx(ctx, idx.store, func(tx storage.Tx) error {
			resolved, unresolved = 0, 0
			for _, p := range batch {
				if !p.Type.Valid() {
					unresolved++
					continue
				}
				target, err := r.resolve(ctx, tx, p, callerFiles[p.CallerID])
				if err != nil {
					return fmt.Errorf("resolve %s: %w", p.CalleeName, err)
				}
				if target == "" {
					unresolved++
					idx.log.Debug("unresolved relation", "caller", p.CallerID, "callee", p.CalleeName, "type", p.Type)
					continue
				}
				err = tx.UpsertRelation(ctx, types.Relation{SourceID: p.CallerID, TargetID: target, Type: p.Type})
				if errors.Is(err, storage.ErrReferentialIntegrity) {
					idx.log.Error("referential integrity violation", "op", "upsert_relation",
						"file", callerFiles[p.CallerID], "symbol", p.CallerID, "target", target, "error", err)
					unresolved++
					continue
				}
				if err != nil {
					return err
				}
				resolved++
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to resolve relations: %w", err)
		}
		stats.RelationsResolved += resolved
		stats.RelationsUnresolved += unresolved
	}
	return nil
}
