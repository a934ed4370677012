package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/codeindex/internal/engine"
)

// params turns the flags the user set into verb parameters. Flags left at
// their default are omitted so the engine applies its own defaults.
// Flag names use dashes; parameter keys use underscores.
func params(cmd *cobra.Command, positional map[string]string) engine.Params {
	p := engine.Params{}
	for k, v := range positional {
		p[k] = v
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		switch f.Value.Type() {
		case "bool":
			v, _ := cmd.Flags().GetBool(f.Name)
			p[key] = v
		case "int":
			v, _ := cmd.Flags().GetInt(f.Name)
			p[key] = v
		case "stringSlice":
			v, _ := cmd.Flags().GetStringSlice(f.Name)
			p[key] = v
		default:
			p[key] = f.Value.String()
		}
	})
	return p
}

func (a *app) initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Build the index with a full scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, engine.VerbInit, params(cmd, nil))
		},
	}
	cmd.Flags().Bool("force", false, "discard an existing index and rebuild it")
	cmd.Flags().Bool("embed", false, "also generate embeddings for semantic search")
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Re-index files changed since the last pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, engine.VerbUpdate, params(cmd, nil))
		},
	}
	cmd.Flags().Bool("full", false, "re-parse every file, ignoring fingerprints")
	cmd.Flags().Bool("embed", false, "refresh embeddings of changed symbols")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search file contents for text or a regular expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, engine.VerbSearch, params(cmd, map[string]string{"query": args[0]}))
		},
	}
	cmd.Flags().Bool("regex", false, "treat the query as a regular expression")
	cmd.Flags().BoolP("ignore-case", "i", false, "case-insensitive match")
	cmd.Flags().String("path-filter", "", "glob over project-relative paths")
	cmd.Flags().IntP("context-lines", "C", 0, "lines of context around each match")
	cmd.Flags().Int("limit", 0, "maximum number of matches")
	return cmd
}

func (a *app) findCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <pattern>",
		Short: "List files whose path matches a glob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, engine.VerbFind, params(cmd, map[string]string{"pattern": args[0]}))
		},
	}
	cmd.Flags().Int("limit", 0, "maximum number of files")
	return cmd
}

func (a *app) symbolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbol <name>",
		Short: "Look up symbols by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, engine.VerbSymbol, params(cmd, map[string]string{"name": args[0]}))
		},
	}
	cmd.Flags().String("mode", "exact", "match mode: exact|fuzzy")
	cmd.Flags().StringSlice("type", nil, "only these kinds (function, method, class, interface, variable, module)")
	cmd.Flags().Int("limit", 0, "maximum number of symbols")
	cmd.Flags().Bool("include-relations", false, "attach incoming and outgoing relations")
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file|symbol>",
		Short: "Show the indexed record of a file or symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, engine.VerbInspect, params(cmd, map[string]string{"target": args[0]}))
		},
	}
}

func (a *app) graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <symbol>",
		Short: "Walk relations from a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, engine.VerbGraph, params(cmd, map[string]string{"symbol": args[0]}))
		},
	}
	cmd.Flags().Int("depth", 1, "maximum number of hops")
	cmd.Flags().String("direction", "callees", "callers|callees|both")
	cmd.Flags().StringSlice("types", nil, "relation types to follow (calls, imports, extends, implements)")
	return cmd
}

func (a *app) semanticCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semantic <query>",
		Short: "Find symbols by meaning using embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, engine.VerbSemantic, params(cmd, map[string]string{"query": args[0]}))
		},
	}
	cmd.Flags().String("mode", "vector", "vector|hybrid")
	cmd.Flags().StringSlice("type", nil, "only these symbol kinds")
	cmd.Flags().String("language", "", "only symbols of this language")
	cmd.Flags().String("path-filter", "", "glob over project-relative paths")
	cmd.Flags().Int("limit", 10, "maximum number of results")
	cmd.Flags().Bool("use-cache", true, "serve repeated queries from the result cache")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report index state and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, engine.VerbStatus, nil)
		},
	}
}
