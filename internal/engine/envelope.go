package engine

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/query"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/textsearch"
	"github.com/dshills/codeindex/pkg/types"
)

// Code identifies a failure class in the result envelope
type Code string

// Error codes surfaced by the command surface
const (
	CodeProjectNotInitialized Code = "PROJECT_NOT_INITIALIZED"
	CodeIndexNotFound         Code = "INDEX_NOT_FOUND"
	CodeAlreadyInitialized    Code = "ALREADY_INITIALIZED"
	CodeSemanticUnavailable   Code = "SEMANTIC_UNAVAILABLE"
	CodeSymbolSearchFailed    Code = "SYMBOL_SEARCH_FAILED"
	CodeReferentialIntegrity  Code = "REFERENTIAL_INTEGRITY_ERROR"
	CodeInvalidParams         Code = "INVALID_PARAMS"
	CodeUnknownVerb           Code = "UNKNOWN_VERB"
	CodeIndexLocked           Code = "INDEX_LOCKED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Envelope is the structured result of every verb. Exactly one of Data and
// Error is set.
type Envelope struct {
	Success bool       `json:"success"`
	Data    *Data      `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// Data carries the results of a successful verb
type Data struct {
	Results  any      `json:"results"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes a result set
type Metadata struct {
	Count     int    `json:"count"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Mode      string `json:"mode,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ErrorInfo describes a failed verb
type ErrorInfo struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// JSON renders the envelope the way both the CLI and the MCP tools return it
func (e *Envelope) JSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// outcome is what a verb handler returns before it is wrapped in an envelope
type outcome struct {
	results   any
	count     int
	mode      string
	truncated bool
}

func success(out *outcome, elapsed time.Duration) *Envelope {
	return &Envelope{
		Success: true,
		Data: &Data{
			Results: out.results,
			Metadata: Metadata{
				Count:     out.count,
				ElapsedMs: elapsed.Milliseconds(),
				Mode:      out.mode,
				Truncated: out.truncated,
			},
		},
	}
}

// Failure wraps err in an error envelope
func Failure(err error) *Envelope {
	return &Envelope{Success: false, Error: Classify(err)}
}

// Classify maps an internal error to its envelope code and suggestion. This
// is the only place internal error types meet the external error shape.
func Classify(err error) *ErrorInfo {
	info := &ErrorInfo{Code: CodeInternal, Message: err.Error()}
	switch {
	case errors.Is(err, ErrInitIncomplete):
		info.Code = CodeProjectNotInitialized
		info.Suggestion = "A previous init did not finish. Run 'codeindex init --force' to rebuild the index."
	case errors.Is(err, ErrNotInitialized):
		info.Code = CodeProjectNotInitialized
		info.Suggestion = "Run 'codeindex init' in the project root first."
	case errors.Is(err, ErrIndexNotFound):
		info.Code = CodeIndexNotFound
		info.Suggestion = "The index database is missing. Run 'codeindex init --force' to rebuild it."
	case errors.Is(err, ErrAlreadyInitialized):
		info.Code = CodeAlreadyInitialized
		info.Suggestion = "Run 'codeindex update' to refresh the index, or 'codeindex init --force' to rebuild it."
	case errors.Is(err, ErrLocked), errors.Is(err, indexer.ErrIndexInProgress):
		info.Code = CodeIndexLocked
		info.Suggestion = "Another init or update is running. Retry when it finishes."
	case errors.Is(err, query.ErrSemanticUnavailable):
		info.Code = CodeSemanticUnavailable
		info.Suggestion = "Run 'codeindex update --embed' to generate embeddings, or use 'symbol' for name lookups."
	case errors.Is(err, storage.ErrReferentialIntegrity):
		info.Code = CodeReferentialIntegrity
	case errors.Is(err, ErrUnknownVerb):
		info.Code = CodeUnknownVerb
		info.Suggestion = "Valid verbs: " + verbList()
	case errors.Is(err, query.ErrSymbolNotFound):
		info.Code = CodeSymbolSearchFailed
		info.Suggestion = "Check the name with 'codeindex symbol --mode fuzzy'."
	case errors.Is(err, query.ErrTargetNotFound):
		info.Code = CodeSymbolSearchFailed
		info.Suggestion = "Pass a project-relative file path, a symbol id or an exact symbol name."
	case errors.Is(err, ErrSymbolSearch):
		info.Code = CodeSymbolSearchFailed
	case errors.Is(err, ErrInvalidParams),
		errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, textsearch.ErrEmptyQuery),
		errors.Is(err, textsearch.ErrInvalidPattern),
		errors.Is(err, types.ErrInvalidKind),
		errors.Is(err, types.ErrInvalidDirection):
		info.Code = CodeInvalidParams
		info.Suggestion = paramSuggestion(err)
	}
	return info
}

func paramSuggestion(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidDirection):
		return "Use direction callers, callees or both."
	case errors.Is(err, types.ErrInvalidKind):
		return "Use a symbol type such as function, method, class, interface, variable or module."
	case errors.Is(err, textsearch.ErrInvalidPattern):
		return "Check the regular expression or glob syntax, or drop the regex flag for a literal search."
	}
	return "Check the required parameters with 'codeindex <verb> --help'."
}
