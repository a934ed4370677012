package parser

import (
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// tagPatterns records architectural roles inferred from naming conventions
// in the symbol's metadata under the "pattern" key.
func tagPatterns(sym *types.Symbol) {
	// Only type-like symbols carry roles
	if sym.Kind != types.KindClass && sym.Kind != types.KindInterface {
		return
	}

	if role := patternFor(sym.ShortName); role != "" {
		if sym.Metadata == nil {
			sym.Metadata = make(map[string]string)
		}
		sym.Metadata["pattern"] = role
	}
}

func patternFor(name string) string {
	switch {
	case strings.HasSuffix(name, "Aggregate") || strings.HasSuffix(name, "AggregateRoot"):
		return "aggregate_root"
	case strings.HasSuffix(name, "Repository") || strings.HasSuffix(name, "Repo"):
		return "repository"
	case strings.HasSuffix(name, "Service"):
		return "service"
	case strings.HasSuffix(name, "Handler") || strings.HasSuffix(name, "Controller"):
		return "handler"
	case strings.HasSuffix(name, "Command") || strings.HasSuffix(name, "Cmd"):
		return "command"
	case strings.HasSuffix(name, "Query"):
		return "query"
	case strings.HasSuffix(name, "Factory"):
		return "factory"
	case strings.HasSuffix(name, "VO") || strings.HasSuffix(name, "ValueObject"):
		return "value_object"
	case strings.HasSuffix(name, "Entity"):
		return "entity"
	}
	return ""
}
