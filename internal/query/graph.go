package query

import (
	"context"
	"fmt"

	"github.com/dshills/codeindex/pkg/types"
)

// GraphRequest describes a relation traversal
type GraphRequest struct {
	Symbol    string
	Depth     int
	Direction types.Direction
	// Types restricts traversal to these relation types; empty means all
	Types []types.RelationType
}

// GraphNode is a symbol reached by a traversal
type GraphNode struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Kind     types.SymbolKind `json:"kind"`
	FilePath string           `json:"file_path"`
	Line     int              `json:"line"`
	Depth    int              `json:"depth"`
}

// Graph is the result of a traversal. Edges keep their stored orientation
// (source → target) regardless of the traversal direction.
type Graph struct {
	Root      string           `json:"root"`
	Direction types.Direction  `json:"direction"`
	Depth     int              `json:"depth"`
	Nodes     []GraphNode      `json:"nodes"`
	Edges     []types.Relation `json:"edges"`
}

type frontierItem struct {
	id    string
	depth int
}

// Graph walks relations breadth-first from the named symbol up to req.Depth
// hops. A symbol is expanded at most once, so cycles terminate.
func (e *Engine) Graph(ctx context.Context, req GraphRequest) (*Graph, error) {
	if req.Direction == "" {
		req.Direction = types.DirectionOut
	}
	switch req.Direction {
	case types.DirectionIn, types.DirectionOut, types.DirectionBoth:
	default:
		return nil, types.ErrInvalidDirection
	}
	for _, t := range req.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown relation type %q", ErrInvalidQuery, t)
		}
	}
	depth := req.Depth
	if depth <= 0 {
		depth = DefaultDepth
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}

	root, err := e.resolveSymbol(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	depthOf := map[string]int{root.ID: 0}
	order := []string{root.ID}
	seenEdge := make(map[types.Relation]struct{})
	var edges []types.Relation

	queue := []frontierItem{{id: root.ID}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}

		rels, err := e.store.GetRelations(ctx, cur.id, req.Direction)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			if !typeAllowed(rel.Type, req.Types) {
				continue
			}
			if _, ok := seenEdge[rel]; !ok {
				seenEdge[rel] = struct{}{}
				edges = append(edges, rel)
			}
			next := rel.TargetID
			if next == cur.id {
				next = rel.SourceID
			}
			if _, ok := depthOf[next]; ok {
				continue
			}
			depthOf[next] = cur.depth + 1
			order = append(order, next)
			queue = append(queue, frontierItem{id: next, depth: cur.depth + 1})
		}
	}

	syms, err := e.store.GetSymbols(ctx, order)
	if err != nil {
		return nil, err
	}
	nodes := make([]GraphNode, 0, len(syms))
	for _, sym := range syms {
		nodes = append(nodes, GraphNode{
			ID:       sym.ID,
			Name:     sym.Name,
			Kind:     sym.Kind,
			FilePath: sym.Location.FilePath,
			Line:     sym.Location.LineStart,
			Depth:    depthOf[sym.ID],
		})
	}
	if edges == nil {
		edges = []types.Relation{}
	}

	e.log.Debug("graph", "root", root.ID, "direction", req.Direction, "depth", depth,
		"nodes", len(nodes), "edges", len(edges))
	return &Graph{
		Root:      root.ID,
		Direction: req.Direction,
		Depth:     depth,
		Nodes:     nodes,
		Edges:     edges,
	}, nil
}

func typeAllowed(t types.RelationType, allowed []types.RelationType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
