package parser

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/codeindex/pkg/types"
)

// Strategy extracts entities from the source of one language. Implementations
// hold no per-file state and may be called concurrently for different files.
type Strategy interface {
	// Language returns the language identifier stored on files and symbols
	Language() string
	// Supports reports whether this strategy handles the given path
	Supports(path string) bool
	// Parse extracts symbols, file metadata and pending relations.
	// path is project-relative and becomes part of every symbol id.
	Parse(path string, content []byte) (*types.ParseResult, error)
}

// Registry maps file extensions to strategies and always resolves to a
// strategy: paths no registered strategy supports go to the fallback.
type Registry struct {
	mu       sync.RWMutex
	byExt    map[string]Strategy
	ordered  []Strategy
	fallback Strategy
}

// NewRegistry creates a registry with the given fallback strategy
func NewRegistry(fallback Strategy) *Registry {
	if fallback == nil {
		fallback = NewGenericStrategy()
	}
	return &Registry{
		byExt:    make(map[string]Strategy),
		fallback: fallback,
	}
}

// DefaultRegistry returns a registry with every built-in language strategy
func DefaultRegistry() *Registry {
	r := NewRegistry(NewGenericStrategy())
	r.Register(NewGoStrategy(), ".go")
	r.Register(NewPythonStrategy(), ".py", ".pyi")
	r.Register(NewJavaScriptStrategy(), ".js", ".jsx", ".mjs", ".cjs")
	r.Register(NewTypeScriptStrategy(), ".ts", ".mts", ".cts")
	r.Register(NewTSXStrategy(), ".tsx")
	return r
}

// Register adds a strategy under one or more extensions (with leading dot).
// A later registration for the same extension wins.
func (r *Registry) Register(s Strategy, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = s
	}
	r.ordered = append(r.ordered, s)
}

// For returns the strategy for a path, never nil
func (r *Registry) For(path string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return s
	}
	for _, s := range r.ordered {
		if s.Supports(path) {
			return s
		}
	}
	return r.fallback
}

// Extensions returns the registered extensions in sorted order
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse runs the strategy for path and fills in file-level metadata the
// strategy left empty.
func (r *Registry) Parse(path string, content []byte) (*types.ParseResult, error) {
	s := r.For(path)
	result, err := s.Parse(path, content)
	if err != nil {
		return nil, fmt.Errorf("%s parser: %w", s.Language(), err)
	}

	result.File.Path = path
	if result.File.Language == "" {
		result.File.Language = s.Language()
	}
	result.File.LineCount = countLines(content)
	result.File.Size = int64(len(content))

	for i := range result.Symbols {
		tagPatterns(&result.Symbols[i])
	}
	return result, nil
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := strings.Count(string(content), "\n")
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
