package textsearch

import (
	"bytes"
	"context"
	"os"
	"regexp"

	"github.com/dshills/codeindex/internal/discovery"
	"github.com/dshills/codeindex/pkg/types"
)

// searchScan is the in-process backend: it enumerates files the way
// indexing does and matches each line with re
func searchScan(ctx context.Context, re *regexp.Regexp, opts Options) (*Result, error) {
	disc, err := discovery.Discover(ctx, discoveryOptions(opts, opts.PathFilter, false))
	if err != nil {
		return nil, err
	}

	res := &Result{Backend: BackendScan, Matches: make([]types.SearchResult, 0)}
	for _, f := range disc.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			opts.Logger.Debug("skipping unreadable file", "path", f.Path, "error", err)
			continue
		}
		if scanFile(res, f.Path, content, re, opts) {
			break
		}
	}
	return res, nil
}

// scanFile appends the matches of one file and reports whether a match beyond
// the limit was seen. Reaching the limit exactly does not truncate.
func scanFile(res *Result, path string, content []byte, re *regexp.Regexp, opts Options) bool {
	lines := splitLines(content)
	for i, line := range lines {
		loc := re.FindIndex(line)
		if loc == nil {
			continue
		}
		if len(res.Matches) == opts.Limit {
			res.Truncated = true
			return true
		}
		sr := types.SearchResult{
			FilePath: path,
			Line:     i + 1,
			Column:   loc[0] + 1,
			Snippet:  snippet(string(line)),
		}
		for j := max(0, i-opts.ContextLines); j < i; j++ {
			sr.ContextBefore = append(sr.ContextBefore, snippet(string(lines[j])))
		}
		for j := i + 1; j <= i+opts.ContextLines && j < len(lines); j++ {
			sr.ContextAfter = append(sr.ContextAfter, snippet(string(lines[j])))
		}
		res.Matches = append(res.Matches, sr)
	}
	return false
}

func splitLines(content []byte) [][]byte {
	lines := bytes.Split(content, []byte("\n"))
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	return lines
}

func discoveryOptions(opts Options, pattern string, includeBinary bool) discovery.Options {
	d := discovery.Options{
		Root:          opts.Root,
		Exclude:       opts.Exclude,
		MaxFileSize:   opts.MaxFileSize,
		UseGit:        opts.UseGit,
		IncludeBinary: includeBinary,
		Logger:        opts.Logger,
	}
	if pattern != "" {
		d.Include = []string{pattern}
	}
	return d
}
