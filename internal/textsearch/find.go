package textsearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/codeindex/internal/discovery"
)

// FileMatch is a path returned by Find
type FileMatch struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// FindResult holds the files matching a glob
type FindResult struct {
	Files     []FileMatch `json:"files"`
	Truncated bool        `json:"truncated"`
}

// FindOptions describes a file path search
type FindOptions struct {
	Root    string
	Pattern string // doublestar glob; a bare name such as "*.go" matches at any depth
	Limit   int
	Exclude []string
	UseGit  bool
	Logger  *slog.Logger
}

// Find lists project files whose relative path matches a glob
func Find(ctx context.Context, opts FindOptions) (*FindResult, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pattern := strings.TrimSpace(opts.Pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: file pattern is required", ErrInvalidPattern)
	}
	pattern = expandGlob(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, opts.Pattern)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	disc, err := discovery.Discover(ctx, discoveryOptions(Options{
		Root:    opts.Root,
		Exclude: opts.Exclude,
		UseGit:  opts.UseGit,
		Logger:  opts.Logger,
	}, pattern, true))
	if err != nil {
		return nil, err
	}

	res := &FindResult{Files: make([]FileMatch, 0)}
	for _, f := range disc.Files {
		if len(res.Files) == limit {
			res.Truncated = true
			break
		}
		res.Files = append(res.Files, FileMatch{Path: f.Path, Size: f.Size})
	}
	return res, nil
}
