package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/engine"
	"github.com/dshills/codeindex/internal/mcp"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/watcher"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve every command as an MCP tool over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			log := eng.Config().Log()
			log.Info("starting", "version", version, "build_mode", storage.BuildMode, "driver", storage.DriverName)
			err = mcp.NewServer(eng, version).Serve(cmd.Context(), os.Stdin, a.stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run update whenever project files change",
		Long: "watch runs one update to catch up, then re-runs update after each burst of file " +
			"changes. The project must be initialized first.",
		Args: cobra.NoArgs,
	}
	debounce := cmd.Flags().Duration("debounce", 0, "quiet period before an update (default from config, 500ms)")
	embed := cmd.Flags().Bool("embed", false, "refresh embeddings on each update")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		eng, err := a.engine()
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()
		cfg := eng.Config()

		update := func(ctx context.Context) error {
			env := eng.Execute(ctx, engine.VerbUpdate, engine.Params{"embed": *embed})
			if err := a.print(env); err != nil {
				if env.Error != nil {
					return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
				}
				return err
			}
			return nil
		}
		if err := update(cmd.Context()); err != nil {
			return errReported
		}

		d := *debounce
		if d <= 0 {
			d = time.Duration(cfg.WatchDebounceMs) * time.Millisecond
		}
		w, err := watcher.New(watcher.Options{
			Root:     cfg.Root,
			Exclude:  watchExcludes(cfg.Root, cfg.StatePath(), cfg.Exclude),
			Debounce: d,
			Logger:   cfg.Log(),
		}, update)
		if err != nil {
			return err
		}
		return w.Run(cmd.Context())
	}
	return cmd
}

// watchExcludes adds the state directory to the exclude patterns when it
// lives inside the root, so index writes never trigger updates
func watchExcludes(root, state string, exclude []string) []string {
	out := append([]string(nil), exclude...)
	rel, err := filepath.Rel(root, state)
	if err != nil {
		return out
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return out
	}
	return append(out, rel+"/**")
}
