package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Source names reported in Result
const (
	SourceGit  = "git"
	SourceWalk = "walk"
)

// sniffLen is how much of a file is inspected for NUL bytes
const sniffLen = 8000

// Options controls which files are candidates for indexing
type Options struct {
	Root          string
	Include       []string // doublestar patterns; empty means everything
	Exclude       []string
	MaxFileSize   int64
	UseGit        bool
	IncludeBinary bool // keep files with NUL bytes, for path-only listings
	Logger        *slog.Logger
}

// Candidate is one file eligible for indexing
type Candidate struct {
	Path    string // project-relative, forward slashes
	AbsPath string
	Size    int64
}

// Result is the outcome of one discovery run
type Result struct {
	Files   []Candidate
	Source  string
	Skipped int // filtered by size or content
}

// Discover enumerates candidate files under opts.Root. It prefers
// `git ls-files` so ignore rules are honored and falls back to a filesystem
// walk when the root is not a git work tree or git is unavailable.
func Discover(ctx context.Context, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", opts.Root)
	}

	var paths []string
	source := SourceWalk
	if opts.UseGit {
		paths, err = gitListFiles(ctx, opts.Root)
		if err == nil {
			source = SourceGit
		} else {
			opts.Logger.Debug("git listing unavailable, walking filesystem", "error", err)
		}
	}
	if source == SourceWalk {
		paths, err = walkListFiles(ctx, opts)
		if err != nil {
			return nil, err
		}
	}

	res := &Result{Source: source}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !Matches(rel, opts.Include, opts.Exclude) {
			continue
		}
		abs := filepath.Join(opts.Root, filepath.FromSlash(rel))
		fi, err := os.Lstat(abs)
		if err != nil || !fi.Mode().IsRegular() {
			// tracked but deleted from the work tree, or a symlink
			continue
		}
		if opts.MaxFileSize > 0 && fi.Size() > opts.MaxFileSize {
			opts.Logger.Debug("skipping large file", "path", rel, "size", fi.Size())
			res.Skipped++
			continue
		}
		if !opts.IncludeBinary && isBinary(abs) {
			res.Skipped++
			continue
		}
		res.Files = append(res.Files, Candidate{Path: rel, AbsPath: abs, Size: fi.Size()})
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	return res, nil
}

// Matches reports whether a project-relative path passes the include and
// exclude filters
func Matches(rel string, include, exclude []string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// gitListFiles lists tracked and untracked-but-not-ignored files
func gitListFiles(ctx context.Context, root string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	seen := make(map[string]struct{})
	var paths []string
	for _, p := range strings.Split(stdout.String(), "\x00") {
		if p == "" {
			continue
		}
		// --cached lists unmerged paths once per stage
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths, nil
}

// walkListFiles walks the tree, pruning hidden and excluded directories
func walkListFiles(ctx context.Context, opts Options) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(opts.Root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || excludedDir(rel, opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

func excludedDir(rel string, exclude []string) bool {
	for _, pattern := range exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
			return true
		}
	}
	return false
}

// isBinary reports whether the head of the file contains a NUL byte
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
