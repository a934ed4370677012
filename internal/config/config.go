package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// State directory layout
const (
	StateDirName  = ".codeindex"
	DBFileName    = "index.db"
	VectorDirName = "vectors"
	CacheFileName = "fingerprints.json"
	LockFileName  = "lock"
	FileName      = "config.toml"
)

// Defaults
const (
	DefaultMaxFileSize      int64 = 1 << 20
	DefaultBatchSize              = 32
	DefaultSearchLimit            = 50
	DefaultContextLines           = 2
	DefaultFuzzyThreshold         = 0.7
	DefaultResolveThreshold       = 0.92
	DefaultCacheSize              = 10000
	DefaultRipgrepPath            = "rg"
	DefaultWatchDebounceMs        = 500
)

// Environment overrides
const (
	EnvWorkers   = "CODEINDEX_WORKERS"
	EnvSemantic  = "CODEINDEX_SEMANTIC"
	EnvProvider  = "CODEINDEX_EMBEDDING_PROVIDER"
	EnvModel     = "CODEINDEX_EMBEDDING_MODEL"
	EnvOllamaURL = "OLLAMA_HOST"
	EnvLogLevel  = "CODEINDEX_LOG_LEVEL"
)

// DefaultExclude lists paths never indexed
var DefaultExclude = []string{
	".git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	StateDirName + "/**",
	"dist/**",
	"build/**",
}

// Config is the explicit configuration value threaded into the indexer,
// query engine and command surface
type Config struct {
	Root     string `toml:"-"`
	StateDir string `toml:"state_dir,omitempty"`

	Include          []string `toml:"include"`
	Exclude          []string `toml:"exclude"`
	MaxFileSize      int64    `toml:"max_file_size"`
	UseGit           bool     `toml:"use_git"`
	Workers          int      `toml:"workers"`
	BatchSize        int      `toml:"batch_size"`
	ResolveThreshold float64  `toml:"resolve_threshold"`
	WatchDebounceMs  int      `toml:"watch_debounce_ms"`

	Semantic Semantic `toml:"semantic"`
	Search   Search   `toml:"search"`

	Logger *slog.Logger `toml:"-"`
}

// Semantic configures the optional embedding subsystem
type Semantic struct {
	Enabled   bool   `toml:"enabled"`
	Provider  string `toml:"provider"`
	Model     string `toml:"model,omitempty"`
	OllamaURL string `toml:"ollama_url,omitempty"`
	CacheSize int    `toml:"cache_size"`
}

// Search configures query defaults
type Search struct {
	DefaultLimit   int     `toml:"default_limit"`
	ContextLines   int     `toml:"context_lines"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	RipgrepPath    string  `toml:"ripgrep_path"`
}

// Default returns the configuration used when no file or environment overrides apply
func Default(root string) *Config {
	return &Config{
		Root:             root,
		Exclude:          append([]string(nil), DefaultExclude...),
		MaxFileSize:      DefaultMaxFileSize,
		UseGit:           true,
		Workers:          runtime.NumCPU(),
		BatchSize:        DefaultBatchSize,
		ResolveThreshold: DefaultResolveThreshold,
		WatchDebounceMs:  DefaultWatchDebounceMs,
		Semantic: Semantic{
			Provider:  "local",
			CacheSize: DefaultCacheSize,
		},
		Search: Search{
			DefaultLimit:   DefaultSearchLimit,
			ContextLines:   DefaultContextLines,
			FuzzyThreshold: DefaultFuzzyThreshold,
			RipgrepPath:    DefaultRipgrepPath,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Load builds the configuration for a project root: defaults, then
// <state>/config.toml if present, then environment overrides
func Load(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg := Default(abs)

	data, err := os.ReadFile(filepath.Join(cfg.StatePath(), FileName))
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", FileName, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvSemantic); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSemantic, err)
		}
		c.Semantic.Enabled = enabled
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Semantic.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Semantic.Model = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" && c.Semantic.OllamaURL == "" {
		c.Semantic.OllamaURL = v
	}
	return nil
}

// Validate rejects configurations the indexer cannot run with
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("project root cannot be empty")
	}
	for _, p := range append(append([]string(nil), c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.ResolveThreshold <= 0 || c.ResolveThreshold > 1 {
		return fmt.Errorf("resolve_threshold must be in (0, 1], got %v", c.ResolveThreshold)
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.ContextLines < 0 {
		return fmt.Errorf("search.context_lines cannot be negative, got %d", c.Search.ContextLines)
	}
	if c.Search.FuzzyThreshold < 0 || c.Search.FuzzyThreshold > 1 {
		return fmt.Errorf("search.fuzzy_threshold must be in [0, 1], got %v", c.Search.FuzzyThreshold)
	}
	switch c.Semantic.Provider {
	case "local", "openai", "jina", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Semantic.Provider)
	}
	return nil
}

// Save writes the file-backed part of the configuration to <state>/config.toml
func (c *Config) Save() error {
	if err := os.MkdirAll(c.StatePath(), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.StatePath(), FileName), data, 0o644)
}

// Log returns the configured logger, never nil
func (c *Config) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// StatePath returns the absolute state directory
func (c *Config) StatePath() string {
	if c.StateDir == "" {
		return filepath.Join(c.Root, StateDirName)
	}
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.Root, c.StateDir)
}

// DBPath returns the relational store path
func (c *Config) DBPath() string { return filepath.Join(c.StatePath(), DBFileName) }

// VectorDir returns the vector store directory
func (c *Config) VectorDir() string { return filepath.Join(c.StatePath(), VectorDirName) }

// CachePath returns the fingerprint cache path
func (c *Config) CachePath() string { return filepath.Join(c.StatePath(), CacheFileName) }

// LockPath returns the advisory lock file path
func (c *Config) LockPath() string { return filepath.Join(c.StatePath(), LockFileName) }
