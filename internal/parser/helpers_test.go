package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

func symbolByName(t *testing.T, result *types.ParseResult, name string) types.Symbol {
	t.Helper()
	for _, sym := range result.Symbols {
		if sym.Name == name {
			return sym
		}
	}
	require.Failf(t, "symbol not found", "no symbol named %q", name)
	return types.Symbol{}
}

func hasSymbol(result *types.ParseResult, name string) bool {
	for _, sym := range result.Symbols {
		if sym.Name == name {
			return true
		}
	}
	return false
}

// pendingFrom returns callee names of pending relations of type rt from caller
func pendingFrom(result *types.ParseResult, callerID string, rt types.RelationType) []string {
	var names []string
	for _, p := range result.Pending {
		if p.CallerID == callerID && p.Type == rt {
			names = append(names, p.CalleeName)
		}
	}
	return names
}
