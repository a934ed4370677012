package parser

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// extToLanguage maps extensions without a dedicated strategy to a language guess
var extToLanguage = map[string]string{
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".java":  "java",
	".kt":    "kotlin",
	".php":   "php",
	".rb":    "ruby",
	".cs":    "csharp",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".zig":   "zig",
	".lua":   "lua",
	".sql":   "sql",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".html":  "html",
	".css":   "css",
}

var shebangToLanguage = map[string]string{
	"python": "python",
	"node":   "javascript",
	"bash":   "shell",
	"sh":     "shell",
	"ruby":   "ruby",
	"perl":   "perl",
}

// GenericStrategy handles any file: it extracts no symbols, only the
// file-level metadata the registry fills in plus a language guess.
type GenericStrategy struct{}

// NewGenericStrategy creates the fallback strategy
func NewGenericStrategy() *GenericStrategy {
	return &GenericStrategy{}
}

// Language implements Strategy
func (g *GenericStrategy) Language() string { return types.LangUnknown }

// Supports implements Strategy; the fallback supports everything
func (g *GenericStrategy) Supports(string) bool { return true }

// Parse implements Strategy
func (g *GenericStrategy) Parse(path string, content []byte) (*types.ParseResult, error) {
	return &types.ParseResult{
		File: types.FileMeta{
			Path:     path,
			Language: GuessLanguage(path, content),
		},
	}, nil
}

// GuessLanguage infers a language from the extension or a shebang line
func GuessLanguage(path string, content []byte) string {
	if lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	if bytes.HasPrefix(content, []byte("#!")) {
		line := content
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(string(line[2:]))
		if len(fields) > 0 {
			interp := filepath.Base(fields[0])
			if interp == "env" && len(fields) > 1 {
				interp = fields[1]
			}
			for prefix, lang := range shebangToLanguage {
				if strings.HasPrefix(interp, prefix) {
					return lang
				}
			}
		}
	}
	return types.LangUnknown
}
