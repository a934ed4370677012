package parser

import (
	"context"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/codeindex/pkg/types"
)

// lazyQuery compiles a tree-sitter query once and shares it. Compiled queries
// are read-only; each execution gets its own cursor.
type lazyQuery struct {
	src  string
	lang *sitter.Language

	once sync.Once
	q    *sitter.Query
	err  error
}

func (l *lazyQuery) get() (*sitter.Query, error) {
	l.once.Do(func() {
		l.q, l.err = sitter.NewQuery([]byte(l.src), l.lang)
	})
	return l.q, l.err
}

func parseTree(lang *sitter.Language, content []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return p.ParseCtx(context.Background(), nil, content)
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

func nodeLocation(n *sitter.Node) types.Location {
	start, end := n.StartPoint(), n.EndPoint()
	return types.Location{
		LineStart:   int(start.Row) + 1,
		LineEnd:     int(end.Row) + 1,
		ColumnStart: int(start.Column) + 1,
		ColumnEnd:   int(end.Column) + 1,
	}
}

// firstLine trims a declaration to its first line for use as a signature
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}

// span is the byte range of a definition that can own calls
type span struct {
	start, end uint32
	id         string
}

// spanIndex finds the innermost definition containing a byte offset
type spanIndex []span

func (s spanIndex) sorted() spanIndex {
	sort.Slice(s, func(i, j int) bool {
		if s[i].start != s[j].start {
			return s[i].start < s[j].start
		}
		return s[i].end > s[j].end
	})
	return s
}

func (s spanIndex) owner(pos uint32, fallback string) string {
	owner := fallback
	best := ^uint32(0)
	for _, sp := range s {
		if sp.start > pos {
			break
		}
		if pos < sp.end && sp.end-sp.start < best {
			owner = sp.id
			best = sp.end - sp.start
		}
	}
	return owner
}

// collectCalls runs a query whose @callee captures name call targets and
// attributes each call to its innermost enclosing definition.
func collectCalls(q *sitter.Query, root *sitter.Node, src []byte, spans spanIndex, moduleID string, skip map[string]bool, c *collector) {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, capture := range m.Captures {
			if q.CaptureNameForId(capture.Index) != "callee" {
				continue
			}
			name := capture.Node.Content(src)
			if skip[name] {
				continue
			}
			c.relate(spans.owner(capture.Node.StartByte(), moduleID), name, types.RelationCalls)
		}
	}
}
