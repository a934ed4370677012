package textsearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/codeindex/pkg/types"
)

// Backend names reported in Result
const (
	BackendRipgrep = "ripgrep"
	BackendScan    = "scan"
)

// Limits applied to every search
const (
	DefaultLimit        = 50
	MaxLimit            = 1000
	DefaultContextLines = 2
	MaxContextLines     = 10
	maxSnippetLen       = 500
)

var (
	// ErrEmptyQuery is returned when the query is blank
	ErrEmptyQuery = errors.New("search query is required")

	// ErrInvalidPattern is returned for malformed regular expressions and path globs
	ErrInvalidPattern = errors.New("invalid search pattern")
)

// Options describes one raw content search
type Options struct {
	Root         string
	Query        string
	Regex        bool
	IgnoreCase   bool
	PathFilter   string // doublestar glob over project-relative paths
	ContextLines int
	Limit        int

	// Exclude and MaxFileSize scope the in-process scanner the same way
	// indexing is scoped; ripgrep applies Exclude as negated globs
	Exclude     []string
	MaxFileSize int64
	UseGit      bool

	// RipgrepPath is the rg binary; empty disables ripgrep
	RipgrepPath string
	Logger      *slog.Logger
}

// Result holds the matches of a search. Truncated is set when the search
// stopped at the limit.
type Result struct {
	Matches   []types.SearchResult `json:"matches"`
	Backend   string               `json:"backend"`
	Truncated bool                 `json:"truncated"`
}

// Search finds lines matching opts.Query under opts.Root. It uses ripgrep
// when the binary is available and an in-process scanner otherwise; both
// produce the same result shape. Search does not depend on the index.
func Search(ctx context.Context, opts Options) (*Result, error) {
	if err := normalize(&opts); err != nil {
		return nil, err
	}
	re, err := compile(opts)
	if err != nil {
		return nil, err
	}

	if opts.RipgrepPath != "" {
		if bin, lookErr := exec.LookPath(opts.RipgrepPath); lookErr == nil {
			res, err := searchRipgrep(ctx, bin, opts)
			if err == nil {
				return res, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			opts.Logger.Warn("ripgrep failed, falling back to in-process scan", "error", err)
		} else {
			opts.Logger.Debug("ripgrep not found, using in-process scan", "path", opts.RipgrepPath)
		}
	}
	return searchScan(ctx, re, opts)
}

func normalize(opts *Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if strings.TrimSpace(opts.Query) == "" {
		return ErrEmptyQuery
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.ContextLines < 0 {
		opts.ContextLines = 0
	}
	if opts.ContextLines > MaxContextLines {
		opts.ContextLines = MaxContextLines
	}
	if opts.PathFilter != "" {
		opts.PathFilter = expandGlob(opts.PathFilter)
		if !doublestar.ValidatePattern(opts.PathFilter) {
			return fmt.Errorf("%w: path filter %q", ErrInvalidPattern, opts.PathFilter)
		}
	}
	return nil
}

// compile builds the matcher for the in-process scanner. Regex queries are
// validated here even when ripgrep runs so both backends reject the same input.
func compile(opts Options) (*regexp.Regexp, error) {
	expr := opts.Query
	if !opts.Regex {
		expr = regexp.QuoteMeta(expr)
	}
	if opts.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return re, nil
}

// expandGlob makes a bare file pattern such as "*.go" match at any depth
func expandGlob(pattern string) string {
	if strings.Contains(pattern, "/") || strings.HasPrefix(pattern, "**") {
		return pattern
	}
	return "**/" + pattern
}

func snippet(line string) string {
	line = strings.TrimRight(line, "\r\n")
	if len(line) <= maxSnippetLen {
		return line
	}
	cut := maxSnippetLen
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}
