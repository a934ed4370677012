package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvProvider, EnvJinaAPIKey, EnvOpenAIAPIKey, EnvOllamaURL} {
		t.Setenv(key, "")
	}
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "nothing set", want: ProviderLocal},
		{name: "explicit provider wins", env: map[string]string{EnvProvider: "Ollama", EnvJinaAPIKey: "k"}, want: ProviderOllama},
		{name: "jina key", env: map[string]string{EnvJinaAPIKey: "k", EnvOpenAIAPIKey: "k"}, want: ProviderJina},
		{name: "openai key", env: map[string]string{EnvOpenAIAPIKey: "k"}, want: ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOpenAIAPIKey, "sk-test")
	t.Setenv(EnvOllamaURL, "http://ollama:11434")

	cfg := ConfigFromEnv(Config{})
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Empty(t, cfg.BaseURL)

	cfg = ConfigFromEnv(Config{Provider: ProviderOllama})
	assert.Equal(t, "http://ollama:11434", cfg.BaseURL)

	cfg = ConfigFromEnv(Config{Provider: ProviderOpenAI, APIKey: "explicit"})
	assert.Equal(t, "explicit", cfg.APIKey)
}

func TestNew(t *testing.T) {
	t.Run("local by default", func(t *testing.T) {
		e, err := New(Config{})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, e.Provider())
		assert.Equal(t, LocalDimension, e.Dimension())
	})

	t.Run("cache wraps provider", func(t *testing.T) {
		e, err := New(Config{Provider: "LOCAL", CacheSize: 10})
		require.NoError(t, err)
		_, ok := e.(*cached)
		assert.True(t, ok)
		assert.Equal(t, ProviderLocal, e.Provider())
	})

	t.Run("remote without key", func(t *testing.T) {
		_, err := New(Config{Provider: ProviderOpenAI})
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("model override", func(t *testing.T) {
		e, err := New(Config{Provider: ProviderJina, APIKey: "k", Model: "jina-embeddings-v2-base-code"})
		require.NoError(t, err)
		assert.Equal(t, "jina-embeddings-v2-base-code", e.Model())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Config{Provider: "word2vec"})
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestNewFromEnv(t *testing.T) {
	clearEnv(t)
	e, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.Provider())
}
