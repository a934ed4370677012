package discovery

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultExclude = []string{".git/**", "**/node_modules/**", ".codeindex/**"}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func paths(res *Result) []string {
	out := make([]string, len(res.Files))
	for i, f := range res.Files {
		out[i] = f.Path
	}
	return out
}

func TestDiscover_Walk(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.go":                   "package main\n",
		"pkg/util.py":               "def f(): pass\n",
		"node_modules/lib/index.js": "module.exports = 1\n",
		".hidden/secret.go":         "package secret\n",
		".codeindex/index.db":       "x",
		"big.txt":                   strings.Repeat("a", 200),
		"image.png":                 "\x89PNG\x00\x00",
	})

	res, err := Discover(context.Background(), Options{
		Root:        root,
		Exclude:     defaultExclude,
		MaxFileSize: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, SourceWalk, res.Source)
	assert.Equal(t, []string{"main.go", "pkg/util.py"}, paths(res))
	assert.Equal(t, 2, res.Skipped, "large and binary files are counted as skipped")

	for _, f := range res.Files {
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(f.Path)), f.AbsPath)
		assert.Positive(t, f.Size)
	}
}

func TestDiscover_Include(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.go":      "package a\n",
		"src/a_test.go": "package a\n",
		"docs/readme":   "hello\n",
	})

	res, err := Discover(context.Background(), Options{
		Root:    root,
		Include: []string{"src/**/*.go"},
		Exclude: []string{"**/*_test.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go"}, paths(res))
}

func TestDiscover_Git(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	cmd := exec.Command("git", "init", "-q")
	cmd.Dir = root
	require.NoError(t, cmd.Run())

	writeFiles(t, root, map[string]string{
		".gitignore":   "ignored/\n",
		"a.py":         "def foo(): pass\n",
		"ignored/b.py": "def bar(): pass\n",
	})

	res, err := Discover(context.Background(), Options{Root: root, UseGit: true, Exclude: defaultExclude})
	require.NoError(t, err)
	assert.Equal(t, SourceGit, res.Source)
	assert.Equal(t, []string{".gitignore", "a.py"}, paths(res))
}

func TestDiscover_GitFallback(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.py": "x = 1\n"})

	// A temp dir outside any repository makes git fail, or git is missing
	res, err := Discover(context.Background(), Options{Root: root, UseGit: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, paths(res))
}

func TestDiscover_BadRoot(t *testing.T) {
	_, err := Discover(context.Background(), Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Discover(context.Background(), Options{Root: file})
	assert.Error(t, err)
}

func TestDiscover_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "package a\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Discover(ctx, Options{Root: root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		path    string
		include []string
		exclude []string
		want    bool
	}{
		{"a.go", nil, nil, true},
		{"vendor/x/a.go", nil, []string{"**/vendor/**"}, false},
		{"pkg/vendor/a.go", nil, []string{"**/vendor/**"}, false},
		{"src/a.go", []string{"src/**"}, nil, true},
		{"lib/a.go", []string{"src/**"}, nil, false},
		{"src/a.go", []string{"src/**"}, []string{"src/a.go"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.path, tt.include, tt.exclude))
		})
	}
}
