package parser

import (
	"fmt"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// collector accumulates the symbols and pending relations of one file and
// assigns ids. Repeated qualified names get a "#n" suffix so ids stay unique.
type collector struct {
	path     string
	language string

	seen    map[string]int
	symbols []types.Symbol

	pendingSeen map[types.PendingRelation]struct{}
	pending     []types.PendingRelation
}

func newCollector(path, language string) *collector {
	return &collector{
		path:        path,
		language:    language,
		seen:        make(map[string]int),
		pendingSeen: make(map[types.PendingRelation]struct{}),
	}
}

// add stores sym and returns its id
func (c *collector) add(sym types.Symbol) string {
	qualified := sym.Name
	if n := c.seen[sym.Name]; n > 0 {
		qualified = fmt.Sprintf("%s#%d", sym.Name, n+1)
	}
	c.seen[sym.Name]++

	sym.ID = types.SymbolID(c.path, qualified)
	sym.Location.FilePath = c.path
	sym.Language = c.language
	if sym.ShortName == "" {
		sym.ShortName = shortName(sym.Name)
	}
	if sym.Location.LineStart < 1 {
		sym.Location.LineStart = 1
	}
	if sym.Location.LineEnd < sym.Location.LineStart {
		sym.Location.LineEnd = sym.Location.LineStart
	}
	c.symbols = append(c.symbols, sym)
	return sym.ID
}

// relate records a pending edge; duplicates and self-references by name are dropped
func (c *collector) relate(callerID, calleeName string, rt types.RelationType) {
	calleeName = strings.TrimSpace(calleeName)
	if callerID == "" || calleeName == "" {
		return
	}
	p := types.PendingRelation{CallerID: callerID, CalleeName: calleeName, Type: rt}
	if _, ok := c.pendingSeen[p]; ok {
		return
	}
	c.pendingSeen[p] = struct{}{}
	c.pending = append(c.pending, p)
}

func (c *collector) result() *types.ParseResult {
	return &types.ParseResult{
		Symbols: c.symbols,
		Pending: c.pending,
		File: types.FileMeta{
			Path:     c.path,
			Language: c.language,
		},
	}
}

func shortName(name string) string {
	if i := strings.LastIndexAny(name, "./"); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}

// moduleName turns "pkg/sub/mod.py" into "pkg.sub.mod"
func moduleName(path string) string {
	name := path
	if i := strings.LastIndex(name, "."); i > strings.LastIndex(name, "/") {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "/__init__")
	name = strings.TrimSuffix(name, "/index")
	return strings.ReplaceAll(name, "/", ".")
}
