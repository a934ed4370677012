package storage

import (
	"context"
	"time"

	"github.com/dshills/codeindex/pkg/types"
)

// Storage defines the interface for persisting and querying the structural index
type Storage interface {
	// File operations
	UpsertFile(ctx context.Context, file *types.FileMeta) (int64, error)
	GetFile(ctx context.Context, path string) (*File, error)
	GetFileByID(ctx context.Context, fileID int64) (*File, error)
	ListFiles(ctx context.Context) ([]*File, error)
	FileFingerprints(ctx context.Context) (map[string]string, error)
	ClearFingerprints(ctx context.Context, paths []string) error
	DeleteFile(ctx context.Context, fileID int64) error

	// Symbol operations
	UpsertSymbol(ctx context.Context, fileID int64, symbol *types.Symbol) error
	GetSymbol(ctx context.Context, symbolID string) (*types.Symbol, error)
	GetSymbols(ctx context.Context, symbolIDs []string) ([]types.Symbol, error)
	ListSymbolsByFile(ctx context.Context, fileID int64) ([]types.Symbol, error)
	ListSymbols(ctx context.Context, afterID string, limit int) ([]types.Symbol, error)
	DeleteSymbolsOfFile(ctx context.Context, fileID int64) error
	PruneSymbolsOfFile(ctx context.Context, fileID int64, keep []string) (int, error)
	FindSymbolByName(ctx context.Context, name string, exact bool) (*types.Symbol, error)
	FindSymbolsByName(ctx context.Context, name string, exact bool, limit int) ([]types.Symbol, error)
	SearchSymbols(ctx context.Context, query string, limit int) ([]types.ScoredSymbol, error)

	// Relation operations
	UpsertRelation(ctx context.Context, rel types.Relation) error
	GetRelations(ctx context.Context, symbolID string, dir types.Direction) ([]types.Relation, error)
	DeleteRelationsFromFile(ctx context.Context, fileID int64) error

	// Index metadata
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)

	// Status operations
	Stats(ctx context.Context) (*Stats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// File is a stored file record
type File struct {
	ID int64
	types.FileMeta
}

// Stats summarizes the contents of the structural index
type Stats struct {
	FileCount         int            `json:"file_count"`
	SymbolCount       int            `json:"symbol_count"`
	RelationCount     int            `json:"relation_count"`
	FilesByLanguage   map[string]int `json:"files_by_language"`
	SymbolsByLanguage map[string]int `json:"symbols_by_language"`
	SymbolsByKind     map[string]int `json:"symbols_by_kind"`
	RelationsByType   map[string]int `json:"relations_by_type"`
	LastIndexedAt     *time.Time     `json:"last_indexed_at,omitempty"`
}

// Well-known index_meta keys
const (
	MetaState         = "state"
	MetaLastIndexedAt = "last_indexed_at"
	MetaEmbedModel    = "embedding_model"
)

// Index lifecycle states stored under MetaState
const (
	StateInitializing = "initializing"
	StateReady        = "ready"
)
