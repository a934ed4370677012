package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SymbolKind represents the type of a named program element
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindClass     SymbolKind = "class"
	KindMethod    SymbolKind = "method"
	KindVariable  SymbolKind = "variable"
	KindInterface SymbolKind = "interface"
	KindModule    SymbolKind = "module"
	KindImport    SymbolKind = "import"
)

// ParseSymbolKind maps user input (including common aliases) to a SymbolKind.
func ParseSymbolKind(s string) (SymbolKind, error) {
	switch s {
	case "function", "func":
		return KindFunction, nil
	case "class", "type", "struct":
		return KindClass, nil
	case "method":
		return KindMethod, nil
	case "variable", "var", "const":
		return KindVariable, nil
	case "interface":
		return KindInterface, nil
	case "module", "package":
		return KindModule, nil
	case "import":
		return KindImport, nil
	}
	return "", ErrInvalidKind
}

// Location is a span in a source file. Lines and columns are 1-based.
type Location struct {
	FilePath    string `json:"file_path"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	ColumnStart int    `json:"column_start"`
	ColumnEnd   int    `json:"column_end"`
}

// Symbol represents a named, typed program element extracted from source
type Symbol struct {
	// Identification
	ID        string     `json:"id"`
	Name      string     `json:"name"`       // Qualified name, e.g. "Server.Start"
	ShortName string     `json:"short_name"` // Last segment, used for fuzzy matching
	Kind      SymbolKind `json:"kind"`

	// Location
	Location Location `json:"location"`

	// Content
	Signature  string `json:"signature,omitempty"`
	DocComment string `json:"doc_comment,omitempty"`

	Language string            `json:"language"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SymbolID derives a stable symbol id from its file and qualified name.
func SymbolID(filePath, qualifiedName string) string {
	h := sha256.Sum256([]byte(filePath + "\x00" + qualifiedName))
	return hex.EncodeToString(h[:16])
}

// ValidateKind checks if the symbol kind is valid
func (s *Symbol) ValidateKind() error {
	switch s.Kind {
	case KindFunction, KindClass, KindMethod, KindVariable, KindInterface, KindModule, KindImport:
		return nil
	default:
		return ErrInvalidKind
	}
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.ID == "" {
		return errors.New("symbol id is required")
	}

	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if err := s.ValidateKind(); err != nil {
		return err
	}

	if s.Location.FilePath == "" {
		return errors.New("symbol file path is required")
	}

	// Position validation
	if s.Location.LineStart <= 0 || s.Location.LineEnd <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.Location.LineStart > s.Location.LineEnd {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}

// SemanticText synthesizes the text embedded for similarity search.
func (s *Symbol) SemanticText() string {
	text := string(s.Kind) + " " + s.Name
	if s.Signature != "" {
		text += "\n" + s.Signature
	}
	if s.DocComment != "" {
		text += "\n" + s.DocComment
	}
	return text
}
