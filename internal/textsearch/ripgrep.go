package textsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// rgMessage is one line of `rg --json` output
type rgMessage struct {
	Type string `json:"type"`
	Data struct {
		Path       rgText `json:"path"`
		Lines      rgText `json:"lines"`
		LineNumber int    `json:"line_number"`
		Submatches []struct {
			Start int `json:"start"`
			End   int `json:"end"`
		} `json:"submatches"`
	} `json:"data"`
}

// rgText holds text that ripgrep emits either as UTF-8 or base64 bytes
type rgText struct {
	Text string `json:"text"`
}

type rgMatch struct {
	line   int
	column int
	text   string
}

// rgFile accumulates the lines ripgrep reports for one file
type rgFile struct {
	path    string
	lines   map[int]string
	matches []rgMatch
}

func ripgrepArgs(opts Options) []string {
	args := []string{"--json", "--no-config", "--line-number", "--no-messages", "--sort", "path"}
	if opts.ContextLines > 0 {
		args = append(args, "--context", strconv.Itoa(opts.ContextLines))
	}
	if !opts.Regex {
		args = append(args, "--fixed-strings")
	}
	if opts.IgnoreCase {
		args = append(args, "--ignore-case")
	}
	if opts.MaxFileSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(opts.MaxFileSize, 10))
	}
	if opts.PathFilter != "" {
		args = append(args, "--glob", opts.PathFilter)
	}
	for _, pattern := range opts.Exclude {
		args = append(args, "--glob", "!"+pattern)
	}
	return append(args, "--regexp", opts.Query, "--", ".")
}

// searchRipgrep runs rg and converts its JSON stream. The process is
// stopped as soon as the limit is reached.
func searchRipgrep(ctx context.Context, bin string, opts Options) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, ripgrepArgs(opts)...)
	cmd.Dir = opts.Root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ripgrep: %w", err)
	}

	res := &Result{Backend: BackendRipgrep, Matches: make([]types.SearchResult, 0)}
	stopped := false
	var cur *rgFile
	dec := json.NewDecoder(stdout)
	for !stopped {
		var msg rgMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			cancel()
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode ripgrep output: %w", err)
		}
		switch msg.Type {
		case "begin":
			cur = &rgFile{path: cleanPath(msg.Data.Path.Text), lines: make(map[int]string)}
		case "context", "match":
			if cur == nil {
				continue
			}
			cur.lines[msg.Data.LineNumber] = snippet(msg.Data.Lines.Text)
			if msg.Type == "match" {
				col := 1
				if len(msg.Data.Submatches) > 0 {
					col = msg.Data.Submatches[0].Start + 1
				}
				cur.matches = append(cur.matches, rgMatch{
					line:   msg.Data.LineNumber,
					column: col,
					text:   snippet(msg.Data.Lines.Text),
				})
			}
		case "end":
			if cur == nil {
				continue
			}
			if cur.path != "" {
				if appendFile(res, cur, opts) {
					stopped = true
					cancel()
				}
			}
			cur = nil
		}
	}
	// Drain so the process is not blocked writing after an early stop
	if stopped {
		_, _ = io.Copy(io.Discard, stdout)
	}

	err = cmd.Wait()
	if stopped || err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 1:
			// no matches
			return res, nil
		case 2:
			// per-file errors are suppressed by --no-messages; anything
			// left on stderr is a usage or pattern error
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("ripgrep: %s", msg)
			}
			return res, nil
		}
	}
	return nil, fmt.Errorf("ripgrep: %w", err)
}

// appendFile converts one file's matches and reports whether a match beyond
// the limit was seen. Reaching the limit exactly does not truncate.
func appendFile(res *Result, f *rgFile, opts Options) bool {
	for _, m := range f.matches {
		if len(res.Matches) == opts.Limit {
			res.Truncated = true
			return true
		}
		sr := types.SearchResult{
			FilePath: f.path,
			Line:     m.line,
			Column:   m.column,
			Snippet:  m.text,
		}
		for n := m.line - opts.ContextLines; n < m.line; n++ {
			if text, ok := f.lines[n]; ok {
				sr.ContextBefore = append(sr.ContextBefore, text)
			}
		}
		for n := m.line + 1; n <= m.line+opts.ContextLines; n++ {
			if text, ok := f.lines[n]; ok {
				sr.ContextAfter = append(sr.ContextAfter, text)
			}
		}
		res.Matches = append(res.Matches, sr)
	}
	return false
}

func cleanPath(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
}
