package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted by NewFromEnv and DetectProvider
const (
	EnvProvider     = "CODEINDEX_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOllamaURL    = "OLLAMA_HOST"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string // endpoint override; the server URL for ollama
	CacheSize int
}

// New creates an embedder with explicit configuration. A positive CacheSize
// wraps the provider in an LRU cache.
func New(cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		e, err = NewJinaProvider(cfg)
	case ProviderOpenAI:
		e, err = NewOpenAIProvider(cfg)
	case ProviderOllama:
		e, err = NewOllamaProvider(cfg)
	case ProviderLocal, "":
		e = NewLocalProvider()
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		e = WithCache(e, NewCache(cfg.CacheSize))
	}
	return e, nil
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
// 1. CODEINDEX_EMBEDDING_PROVIDER (jina, openai, ollama, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(ConfigFromEnv(Config{CacheSize: 10000}))
}

// ConfigFromEnv fills unset fields of cfg from the environment
func ConfigFromEnv(cfg Config) Config {
	if cfg.Provider == "" {
		cfg.Provider = DetectProvider()
	}
	if cfg.APIKey == "" {
		switch strings.ToLower(cfg.Provider) {
		case ProviderJina:
			cfg.APIKey = os.Getenv(EnvJinaAPIKey)
		case ProviderOpenAI:
			cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
	}
	if cfg.BaseURL == "" && strings.EqualFold(cfg.Provider, ProviderOllama) {
		cfg.BaseURL = os.Getenv(EnvOllamaURL)
	}
	return cfg
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
