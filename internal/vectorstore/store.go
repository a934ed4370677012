package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/pkg/types"
)

var (
	// ErrEmpty is returned by Search when no vectors have been stored
	ErrEmpty = errors.New("vector store is empty")
	// ErrDimensionMismatch is returned when a vector's length disagrees with the store
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// FileName is the database file created inside the vector directory
const FileName = "vectors.db"

// Metadata travels with every stored vector
type Metadata struct {
	FilePath string           `json:"file_path"`
	Name     string           `json:"name"`
	Kind     types.SymbolKind `json:"kind"`
	Language string           `json:"language"`
	TextHash string           `json:"text_hash"`
}

// Entry is one vector keyed by symbol id
type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a search hit. Distance is cosine distance, Score is 1 - Distance.
type Match struct {
	ID       string   `json:"id"`
	Distance float64  `json:"distance"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Filter narrows a search. PathGlob is a doublestar pattern over file paths.
type Filter struct {
	PathGlob string
	Kinds    []types.SymbolKind
	Language string
}

// Store persists embedding vectors in their own SQLite database, independent
// of the structural index so it can be dropped and rebuilt at any time.
type Store struct {
	db *sql.DB
}

var migrations = []storage.Migration{
	{
		Version: "1.0.0",
		Up: `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vectors (
    id TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    dims INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    language TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vectors_kind ON vectors(kind);
CREATE INDEX IF NOT EXISTS idx_vectors_file ON vectors(file_path);

CREATE TABLE IF NOT EXISTS vector_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`,
		Down: `
DROP TABLE IF EXISTS vector_meta;
DROP TABLE IF EXISTS vectors;
DROP TABLE IF EXISTS schema_version;
`,
	},
}

// Open opens or creates the vector database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
	}
	db, err := storage.OpenDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	if err := storage.Migrate(context.Background(), db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply vector migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenDir opens the vector database inside dir
func OpenDir(dir string) (*Store, error) {
	return Open(filepath.Join(dir, FileName))
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertEntry(ctx context.Context, q execer, e Entry) error {
	if e.ID == "" {
		return errors.New("vector id is required")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", ErrDimensionMismatch, e.ID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO vectors (id, vector, dims, file_path, name, kind, language, text_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vector = excluded.vector,
			dims = excluded.dims,
			file_path = excluded.file_path,
			name = excluded.name,
			kind = excluded.kind,
			language = excluded.language,
			text_hash = excluded.text_hash,
			updated_at = excluded.updated_at
	`, e.ID, serializeVector(e.Vector), len(e.Vector), e.Metadata.FilePath, e.Metadata.Name,
		string(e.Metadata.Kind), e.Metadata.Language, e.Metadata.TextHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", e.ID, err)
	}
	return nil
}

// Upsert stores or replaces one vector
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	return upsertEntry(ctx, s.db, e)
}

// UpsertBatch stores vectors in a single transaction
func (s *Store) UpsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, e := range entries {
		if err := upsertEntry(ctx, tx, e); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stored vectors
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// Hashes returns the semantic text hash stored for each id
func (s *Store) Hashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, text_hash FROM vectors")
	if err != nil {
		return nil, fmt.Errorf("failed to list vector hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}

// Delete removes vectors by id; unknown ids are ignored
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to delete vector %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Clear removes every vector and the recorded model
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vectors; DELETE FROM vector_meta;"); err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}
	return nil
}

// SetModel records the embedding model the stored vectors came from
func (s *Store) SetModel(ctx context.Context, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_meta (key, value) VALUES ('model', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, model)
	if err != nil {
		return fmt.Errorf("failed to record model: %w", err)
	}
	return nil
}

// Model returns the recorded embedding model, "" if none
func (s *Store) Model(ctx context.Context) (string, error) {
	var model string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM vector_meta WHERE key = 'model'").Scan(&model)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read model: %w", err)
	}
	return model, nil
}

// Search returns up to limit vectors closest to query, nearest first
func (s *Store) Search(ctx context.Context, query []float32, limit int, filter *Filter) ([]Match, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmpty
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrDimensionMismatch)
	}
	if limit <= 0 {
		limit = 10
	}
	if ExtensionAvailable {
		return s.searchOptimized(ctx, query, limit, filter)
	}
	return s.searchFallback(ctx, query, limit, filter)
}
