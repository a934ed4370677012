package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidKind           = errors.New("invalid symbol kind")
	ErrInvalidDirection      = errors.New("invalid direction: expected callers, callees or both")
	ErrMissingPath           = errors.New("file path is required")
	ErrMissingFingerprint    = errors.New("content fingerprint is required")
	ErrInvalidLineCount      = errors.New("line count cannot be negative")
	ErrInvalidLine           = errors.New("line must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
)
