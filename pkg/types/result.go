package types

// SearchResult is a read-only match projection returned by queries
type SearchResult struct {
	FilePath      string   `json:"file"`
	Line          int      `json:"line"`
	Column        int      `json:"column"`
	Snippet       string   `json:"snippet"`
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
	Score         float64  `json:"score,omitempty"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.FilePath == "" {
		return ErrMissingPath
	}

	if sr.Line < 1 {
		return ErrInvalidLine
	}

	if sr.Score < 0 || sr.Score > 1 {
		return ErrInvalidRelevanceScore
	}

	return nil
}

// ScoredSymbol pairs a symbol with a similarity score in [0, 1]
type ScoredSymbol struct {
	Symbol Symbol  `json:"symbol"`
	Score  float64 `json:"score"`
}
