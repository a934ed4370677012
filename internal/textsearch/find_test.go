package textsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	root := fixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"bare extension matches at any depth", "*.py", []string{"app/main.py"}},
		{"directory glob", "lib/**", []string{"lib/util.go"}},
		{"binary files are listed", "*.bin", []string{"assets/logo.bin"}},
		{"excluded paths are not listed", "*.js", []string{}},
		{"brace alternatives", "**/*.{go,py}", []string{"app/main.py", "lib/util.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Find(ctx, FindOptions{Root: root, Pattern: tt.pattern, Exclude: []string{"node_modules/**"}})
			require.NoError(t, err)
			paths := make([]string, 0, len(res.Files))
			for _, f := range res.Files {
				paths = append(paths, f.Path)
			}
			assert.Equal(t, tt.want, paths)
			assert.False(t, res.Truncated)
		})
	}
}

func TestFind_Limit(t *testing.T) {
	root := fixture(t)
	res, err := Find(context.Background(), FindOptions{Root: root, Pattern: "**", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Files, 1)
	assert.True(t, res.Truncated)
}

func TestFind_InvalidPattern(t *testing.T) {
	_, err := Find(context.Background(), FindOptions{Root: t.TempDir(), Pattern: ""})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Find(context.Background(), FindOptions{Root: t.TempDir(), Pattern: "src/[oops"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
