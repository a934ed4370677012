package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/engine"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// errReported means the failure envelope was already written to stdout
var errReported = errors.New("command failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

// app holds the global flags and the output streams of one invocation
type app struct {
	stdout io.Writer
	stderr io.Writer

	root      string
	logLevel  string
	logFormat string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "codeindex",
		Short: "Incremental code index with symbol, graph, text and semantic queries",
		Long: "codeindex keeps a structural index of a source tree under .codeindex/ and answers " +
			"symbol, call graph, text and semantic queries. Every command prints a JSON result envelope.",
		Version:       versionString(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("{{.Version}}\n")

	logLevel := os.Getenv(config.EnvLogLevel)
	if logLevel == "" {
		logLevel = "info"
	}
	cmd.PersistentFlags().StringVar(&a.root, "root", ".", "project root directory")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", logLevel, "log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format: text|json")

	cmd.AddCommand(
		a.initCmd(),
		a.updateCmd(),
		a.searchCmd(),
		a.findCmd(),
		a.symbolCmd(),
		a.inspectCmd(),
		a.graphCmd(),
		a.semanticCmd(),
		a.statusCmd(),
		a.serveCmd(),
		a.watchCmd(),
	)
	return cmd
}

func versionString() string {
	return fmt.Sprintf("codeindex %s (built %s)\nbuild mode: %s, sqlite driver: %s, vector extension: %v",
		version, buildTime, storage.BuildMode, storage.DriverName, vectorstore.ExtensionAvailable)
}

// engine loads the project configuration and builds the engine. Logs go to
// stderr since stdout carries envelopes and the MCP protocol.
func (a *app) engine() (*engine.Engine, error) {
	logger, err := config.NewLogger(a.stderr, a.logLevel, a.logFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(a.root)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger
	return engine.New(cfg), nil
}

// run executes one verb and prints its envelope
func (a *app) run(cmd *cobra.Command, verb string, params engine.Params) error {
	eng, err := a.engine()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			eng.Config().Log().Warn("closing engine", "error", cerr)
		}
	}()
	return a.print(eng.Execute(cmd.Context(), verb, params))
}

func (a *app) print(env *engine.Envelope) error {
	data, err := env.JSON()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(a.stdout, string(data)); err != nil {
		return err
	}
	if !env.Success {
		return errReported
	}
	return nil
}
