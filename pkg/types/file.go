package types

import "time"

// Language identifiers reported by the parsing strategies
const (
	LangGo         = "go"
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangUnknown    = "unknown"
)

// FileMeta describes one indexed source file
type FileMeta struct {
	Path        string    `json:"path"` // Relative to project root
	Language    string    `json:"language"`
	LineCount   int       `json:"line_count"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"content_fingerprint"`
	Imports     []string  `json:"imports,omitempty"`
	Exports     []string  `json:"exports,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// Validate checks the fields every stored file must carry
func (f *FileMeta) Validate() error {
	if f.Path == "" {
		return ErrMissingPath
	}
	if f.Fingerprint == "" {
		return ErrMissingFingerprint
	}
	if f.LineCount < 0 {
		return ErrInvalidLineCount
	}
	return nil
}
