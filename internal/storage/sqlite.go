package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hbollon/go-edlib"

	"github.com/dshills/codeindex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrReferentialIntegrity is returned when a write references a missing file or symbol
	ErrReferentialIntegrity = errors.New("referential integrity violation")
)

// IntegrityError describes a write rejected by a foreign key constraint
type IntegrityError struct {
	Op       string
	FilePath string
	SymbolID string
	Err      error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, ErrReferentialIntegrity)
	if e.FilePath != "" {
		msg += " file=" + e.FilePath
	}
	if e.SymbolID != "" {
		msg += " symbol=" + e.SymbolID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error {
	return ErrReferentialIntegrity
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// OpenDatabase opens a SQLite database with WAL, a single connection and
// foreign keys enabled. The vector store shares these settings.
func OpenDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// InTx runs fn inside a transaction, committing on success
func InTx(ctx context.Context, s Storage, fn func(tx Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// File operations

const fileColumns = `id, path, language, line_count, size_bytes, fingerprint,
	COALESCE(imports, ''), COALESCE(exports, ''), COALESCE(indexed_at, '')`

func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *types.FileMeta) (int64, error) {
	if err := file.Validate(); err != nil {
		return 0, fmt.Errorf("invalid file %q: %w", file.Path, err)
	}
	if file.IndexedAt.IsZero() {
		file.IndexedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO files (path, language, line_count, size_bytes, fingerprint, imports, exports, indexed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			line_count = excluded.line_count,
			size_bytes = excluded.size_bytes,
			fingerprint = excluded.fingerprint,
			imports = excluded.imports,
			exports = excluded.exports,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	var id int64
	err := q.QueryRowContext(ctx, query,
		file.Path, file.Language, file.LineCount, file.Size, file.Fingerprint,
		encodeStrings(file.Imports), encodeStrings(file.Exports),
		file.IndexedAt.Format(time.RFC3339Nano), time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert file %s: %w", file.Path, err)
	}
	return id, nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *types.FileMeta) (int64, error) {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

func scanFile(row rowScanner) (*File, error) {
	var f File
	var imports, exports, indexedAt string
	err := row.Scan(&f.ID, &f.Path, &f.Language, &f.LineCount, &f.Size, &f.Fingerprint,
		&imports, &exports, &indexedAt)
	if err != nil {
		return nil, err
	}
	f.Imports = decodeStrings(imports)
	f.Exports = decodeStrings(exports)
	if indexedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, indexedAt); err == nil {
			f.IndexedAt = ts
		}
	}
	return &f, nil
}

func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, where string, arg interface{}) (*File, error) {
	row := q.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE "+where, arg)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), "path = ?", path)
}

func (s *SQLiteStorage) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), "id = ?", fileID)
}

func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier) ([]*File, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+fileColumns+" FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*File, error) {
	return s.listFilesWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) fileFingerprintsWithQuerier(ctx context.Context, q querier) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT path, fingerprint FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var path, fp string
		if err := rows.Scan(&path, &fp); err != nil {
			return nil, err
		}
		out[path] = fp
	}
	return out, rows.Err()
}

// FileFingerprints returns the stored fingerprint of every indexed file keyed by path
func (s *SQLiteStorage) FileFingerprints(ctx context.Context) (map[string]string, error) {
	return s.fileFingerprintsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) clearFingerprintsWithQuerier(ctx context.Context, q querier, paths []string) error {
	for _, path := range paths {
		if _, err := q.ExecContext(ctx, "UPDATE files SET fingerprint = '' WHERE path = ?", path); err != nil {
			return fmt.Errorf("failed to clear fingerprint of %s: %w", path, err)
		}
	}
	return nil
}

// ClearFingerprints blanks the stored fingerprint of each path so the next
// incremental pass re-parses those files
func (s *SQLiteStorage) ClearFingerprints(ctx context.Context, paths []string) error {
	return s.clearFingerprintsWithQuerier(ctx, s.querier(), paths)
}

func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	result, err := q.ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile removes a file record; its symbols and their relations cascade
func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	return s.deleteFileWithQuerier(ctx, s.querier(), fileID)
}

// Symbol operations

const symbolColumns = `s.id, s.name, s.short_name, s.kind, s.language,
	COALESCE(s.signature, ''), COALESCE(s.doc_comment, ''),
	s.line_start, s.line_end, COALESCE(s.col_start, 0), COALESCE(s.col_end, 0),
	COALESCE(s.metadata, ''), f.path`

const symbolFrom = ` FROM symbols s JOIN files f ON f.id = s.file_id`

func scanSymbol(row rowScanner) (types.Symbol, error) {
	var (
		sym      types.Symbol
		kind     string
		metadata string
	)
	err := row.Scan(&sym.ID, &sym.Name, &sym.ShortName, &kind, &sym.Language,
		&sym.Signature, &sym.DocComment,
		&sym.Location.LineStart, &sym.Location.LineEnd,
		&sym.Location.ColumnStart, &sym.Location.ColumnEnd,
		&metadata, &sym.Location.FilePath)
	if err != nil {
		return sym, err
	}
	sym.Kind = types.SymbolKind(kind)
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &sym.Metadata)
	}
	return sym, nil
}

func collectSymbols(rows *sql.Rows) ([]types.Symbol, error) {
	defer func() { _ = rows.Close() }()
	var out []types.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) upsertSymbolWithQuerier(ctx context.Context, q querier, fileID int64, symbol *types.Symbol) error {
	if err := symbol.Validate(); err != nil {
		return fmt.Errorf("invalid symbol %q: %w", symbol.Name, err)
	}

	var metadata interface{}
	if len(symbol.Metadata) > 0 {
		b, err := json.Marshal(symbol.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(b)
	}

	query := `
		INSERT INTO symbols (id, file_id, name, short_name, kind, language, signature, doc_comment,
		                     line_start, line_end, col_start, col_end, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id = excluded.file_id,
			name = excluded.name,
			short_name = excluded.short_name,
			kind = excluded.kind,
			language = excluded.language,
			signature = excluded.signature,
			doc_comment = excluded.doc_comment,
			line_start = excluded.line_start,
			line_end = excluded.line_end,
			col_start = excluded.col_start,
			col_end = excluded.col_end,
			metadata = excluded.metadata
	`
	_, err := q.ExecContext(ctx, query,
		symbol.ID, fileID, symbol.Name, symbol.ShortName, string(symbol.Kind), symbol.Language,
		nullString(symbol.Signature), nullString(symbol.DocComment),
		symbol.Location.LineStart, symbol.Location.LineEnd,
		symbol.Location.ColumnStart, symbol.Location.ColumnEnd, metadata)
	if isForeignKeyViolation(err) {
		return &IntegrityError{Op: "upsert_symbol", FilePath: symbol.Location.FilePath, SymbolID: symbol.ID, Err: err}
	}
	if err != nil {
		return fmt.Errorf("failed to upsert symbol %s: %w", symbol.Name, err)
	}
	return nil
}

// UpsertSymbol inserts or updates a symbol by id. The FTS index follows via triggers.
func (s *SQLiteStorage) UpsertSymbol(ctx context.Context, fileID int64, symbol *types.Symbol) error {
	return s.upsertSymbolWithQuerier(ctx, s.querier(), fileID, symbol)
}

func (s *SQLiteStorage) getSymbolWithQuerier(ctx context.Context, q querier, symbolID string) (*types.Symbol, error) {
	row := q.QueryRowContext(ctx, "SELECT "+symbolColumns+symbolFrom+" WHERE s.id = ?", symbolID)
	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol: %w", err)
	}
	return &sym, nil
}

func (s *SQLiteStorage) GetSymbol(ctx context.Context, symbolID string) (*types.Symbol, error) {
	return s.getSymbolWithQuerier(ctx, s.querier(), symbolID)
}

// maxInParams bounds the number of bind parameters per IN (...) clause
const maxInParams = 500

func (s *SQLiteStorage) getSymbolsWithQuerier(ctx context.Context, q querier, ids []string) ([]types.Symbol, error) {
	byID := make(map[string]types.Symbol, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := start + maxInParams
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		rows, err := q.QueryContext(ctx,
			"SELECT "+symbolColumns+symbolFrom+" WHERE s.id IN ("+placeholders(len(batch))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get symbols: %w", err)
		}
		syms, err := collectSymbols(rows)
		if err != nil {
			return nil, err
		}
		for _, sym := range syms {
			byID[sym.ID] = sym
		}
	}

	out := make([]types.Symbol, 0, len(byID))
	for _, id := range ids {
		if sym, ok := byID[id]; ok {
			out = append(out, sym)
			delete(byID, id)
		}
	}
	return out, nil
}

// GetSymbols returns the symbols with the given ids in request order, skipping unknown ids
func (s *SQLiteStorage) GetSymbols(ctx context.Context, symbolIDs []string) ([]types.Symbol, error) {
	return s.getSymbolsWithQuerier(ctx, s.querier(), symbolIDs)
}

func (s *SQLiteStorage) listSymbolsByFileWithQuerier(ctx context.Context, q querier, fileID int64) ([]types.Symbol, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+symbolColumns+symbolFrom+" WHERE s.file_id = ? ORDER BY s.line_start, s.name", fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	return collectSymbols(rows)
}

func (s *SQLiteStorage) ListSymbolsByFile(ctx context.Context, fileID int64) ([]types.Symbol, error) {
	return s.listSymbolsByFileWithQuerier(ctx, s.querier(), fileID)
}

func (s *SQLiteStorage) listSymbolsWithQuerier(ctx context.Context, q querier, afterID string, limit int) ([]types.Symbol, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.QueryContext(ctx,
		"SELECT "+symbolColumns+symbolFrom+" WHERE s.id > ? ORDER BY s.id LIMIT ?", afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	return collectSymbols(rows)
}

// ListSymbols pages through every stored symbol in id order
func (s *SQLiteStorage) ListSymbols(ctx context.Context, afterID string, limit int) ([]types.Symbol, error) {
	return s.listSymbolsWithQuerier(ctx, s.querier(), afterID, limit)
}

func (s *SQLiteStorage) deleteSymbolsOfFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM symbols WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("failed to delete symbols: %w", err)
	}
	return nil
}

// DeleteSymbolsOfFile removes every symbol owned by a file
func (s *SQLiteStorage) DeleteSymbolsOfFile(ctx context.Context, fileID int64) error {
	return s.deleteSymbolsOfFileWithQuerier(ctx, s.querier(), fileID)
}

func (s *SQLiteStorage) pruneSymbolsOfFileWithQuerier(ctx context.Context, q querier, fileID int64, keep []string) (int, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM symbols WHERE file_id = ?", fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to list symbol ids: %w", err)
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		if _, ok := keepSet[id]; !ok {
			stale = append(stale, id)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for start := 0; start < len(stale); start += maxInParams {
		end := start + maxInParams
		if end > len(stale) {
			end = len(stale)
		}
		batch := stale[start:end]
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM symbols WHERE id IN ("+placeholders(len(batch))+")", args...); err != nil {
			return 0, fmt.Errorf("failed to prune symbols: %w", err)
		}
	}
	return len(stale), nil
}

// PruneSymbolsOfFile deletes the file's symbols whose ids are not in keep.
// Surviving symbols keep their incoming relations.
func (s *SQLiteStorage) PruneSymbolsOfFile(ctx context.Context, fileID int64, keep []string) (int, error) {
	return s.pruneSymbolsOfFileWithQuerier(ctx, s.querier(), fileID, keep)
}

func (s *SQLiteStorage) findSymbolsByNameWithQuerier(ctx context.Context, q querier, name string, exact bool, limit int) ([]types.Symbol, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if exact {
		rows, err = q.QueryContext(ctx, "SELECT "+symbolColumns+symbolFrom+`
			WHERE s.name = ? OR s.short_name = ?
			ORDER BY CASE WHEN s.name = ? THEN 0 ELSE 1 END, f.path, s.line_start
			LIMIT ?`, name, name, name, limit)
	} else {
		pattern := "%" + escapeLike(name) + "%"
		rows, err = q.QueryContext(ctx, "SELECT "+symbolColumns+symbolFrom+`
			WHERE s.name LIKE ? ESCAPE '\' OR s.short_name LIKE ? ESCAPE '\'
			ORDER BY length(s.short_name), f.path, s.line_start
			LIMIT ?`, pattern, pattern, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find symbols: %w", err)
	}
	return collectSymbols(rows)
}

// FindSymbolsByName matches name against qualified and short names, exactly or by substring
func (s *SQLiteStorage) FindSymbolsByName(ctx context.Context, name string, exact bool, limit int) ([]types.Symbol, error) {
	return s.findSymbolsByNameWithQuerier(ctx, s.querier(), name, exact, limit)
}

func (s *SQLiteStorage) findSymbolByNameWithQuerier(ctx context.Context, q querier, name string, exact bool) (*types.Symbol, error) {
	syms, err := s.findSymbolsByNameWithQuerier(ctx, q, name, exact, 1)
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, ErrNotFound
	}
	return &syms[0], nil
}

func (s *SQLiteStorage) FindSymbolByName(ctx context.Context, name string, exact bool) (*types.Symbol, error) {
	return s.findSymbolByNameWithQuerier(ctx, s.querier(), name, exact)
}

func (s *SQLiteStorage) searchSymbolsWithQuerier(ctx context.Context, q querier, query string, limit int) ([]types.ScoredSymbol, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 50
	}
	candidateLimit := limit * 4
	if candidateLimit < 100 {
		candidateLimit = 100
	}

	seen := make(map[string]struct{})
	var candidates []types.Symbol
	add := func(rows *sql.Rows) error {
		syms, err := collectSymbols(rows)
		if err != nil {
			return err
		}
		for _, sym := range syms {
			if _, ok := seen[sym.ID]; ok {
				continue
			}
			seen[sym.ID] = struct{}{}
			candidates = append(candidates, sym)
		}
		return nil
	}

	if match := ftsPrefixQuery(query); match != "" {
		rows, err := q.QueryContext(ctx, "SELECT "+symbolColumns+`
			FROM symbols_fts
			JOIN symbols s ON s.pk = symbols_fts.rowid
			JOIN files f ON f.id = s.file_id
			WHERE symbols_fts MATCH ?
			ORDER BY bm25(symbols_fts)
			LIMIT ?`, match, candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to execute FTS search: %w", err)
		}
		if err := add(rows); err != nil {
			return nil, err
		}
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := q.QueryContext(ctx, "SELECT "+symbolColumns+symbolFrom+`
		WHERE s.name LIKE ? ESCAPE '\' OR s.short_name LIKE ? ESCAPE '\' OR s.signature LIKE ? ESCAPE '\'
		LIMIT ?`, pattern, pattern, pattern, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute substring search: %w", err)
	}
	if err := add(rows); err != nil {
		return nil, err
	}

	scored := make([]types.ScoredSymbol, len(candidates))
	for i, sym := range candidates {
		scored[i] = types.ScoredSymbol{Symbol: sym, Score: NameSimilarity(query, sym)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Symbol.Name != scored[j].Symbol.Name {
			return scored[i].Symbol.Name < scored[j].Symbol.Name
		}
		return scored[i].Symbol.ID < scored[j].Symbol.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SearchSymbols runs a fuzzy search over name, short_name and signature.
// Candidates come from an FTS prefix match and a substring match and are
// ranked by Jaro-Winkler similarity of the query to the symbol's names.
func (s *SQLiteStorage) SearchSymbols(ctx context.Context, query string, limit int) ([]types.ScoredSymbol, error) {
	return s.searchSymbolsWithQuerier(ctx, s.querier(), query, limit)
}

// NameSimilarity scores how closely query matches a symbol's names, in [0, 1]
func NameSimilarity(query string, sym types.Symbol) float64 {
	q := strings.ToLower(query)
	short := strings.ToLower(sym.ShortName)
	name := strings.ToLower(sym.Name)
	if q == short || q == name {
		return 1
	}
	best := jaroWinkler(q, short)
	if v := jaroWinkler(q, name); v > best {
		best = v
	}
	// Substring hits rank above unrelated names of similar shape
	if strings.Contains(short, q) || strings.Contains(name, q) {
		if v := 0.5 + 0.5*float64(len(q))/float64(len(name)+1); v > best {
			best = v
		}
	}
	return best
}

func jaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	v, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return float64(v)
}

// Relation operations

func (s *SQLiteStorage) upsertRelationWithQuerier(ctx context.Context, q querier, rel types.Relation) error {
	if !rel.Type.Valid() {
		return fmt.Errorf("invalid relation type %q", rel.Type)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO relations (source_id, target_id, relation_type)
		VALUES (?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO NOTHING
	`, rel.SourceID, rel.TargetID, string(rel.Type))
	if isForeignKeyViolation(err) {
		return &IntegrityError{Op: "upsert_relation", SymbolID: rel.SourceID + "->" + rel.TargetID, Err: err}
	}
	if err != nil {
		return fmt.Errorf("failed to upsert relation: %w", err)
	}
	return nil
}

// UpsertRelation inserts a relation; inserting an existing triple is a no-op
func (s *SQLiteStorage) UpsertRelation(ctx context.Context, rel types.Relation) error {
	return s.upsertRelationWithQuerier(ctx, s.querier(), rel)
}

func (s *SQLiteStorage) getRelationsWithQuerier(ctx context.Context, q querier, symbolID string, dir types.Direction) ([]types.Relation, error) {
	base := "SELECT source_id, target_id, relation_type FROM relations WHERE "
	var (
		rows *sql.Rows
		err  error
	)
	switch dir {
	case types.DirectionIn:
		rows, err = q.QueryContext(ctx, base+"target_id = ? ORDER BY relation_type, source_id", symbolID)
	case types.DirectionOut:
		rows, err = q.QueryContext(ctx, base+"source_id = ? ORDER BY relation_type, target_id", symbolID)
	case types.DirectionBoth:
		rows, err = q.QueryContext(ctx, base+"source_id = ? OR target_id = ? ORDER BY relation_type, source_id, target_id", symbolID, symbolID)
	default:
		return nil, types.ErrInvalidDirection
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Relation
	for rows.Next() {
		var rel types.Relation
		var typ string
		if err := rows.Scan(&rel.SourceID, &rel.TargetID, &typ); err != nil {
			return nil, err
		}
		rel.Type = types.RelationType(typ)
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetRelations(ctx context.Context, symbolID string, dir types.Direction) ([]types.Relation, error) {
	return s.getRelationsWithQuerier(ctx, s.querier(), symbolID, dir)
}

func (s *SQLiteStorage) deleteRelationsFromFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM relations WHERE source_id IN (SELECT id FROM symbols WHERE file_id = ?)", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete relations: %w", err)
	}
	return nil
}

// DeleteRelationsFromFile drops the outgoing relations of a file's symbols
func (s *SQLiteStorage) DeleteRelationsFromFile(ctx context.Context, fileID int64) error {
	return s.deleteRelationsFromFileWithQuerier(ctx, s.querier(), fileID)
}

// Index metadata

func (s *SQLiteStorage) setMetaWithQuerier(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO index_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	return s.setMetaWithQuerier(ctx, s.querier(), key, value)
}

func (s *SQLiteStorage) getMetaWithQuerier(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, error) {
	return s.getMetaWithQuerier(ctx, s.querier(), key)
}

// Status operations

func (s *SQLiteStorage) statsWithQuerier(ctx context.Context, q querier) (*Stats, error) {
	stats := &Stats{
		FilesByLanguage:   make(map[string]int),
		SymbolsByLanguage: make(map[string]int),
		SymbolsByKind:     make(map[string]int),
		RelationsByType:   make(map[string]int),
	}

	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM symbols),
			(SELECT COUNT(*) FROM relations)
	`).Scan(&stats.FileCount, &stats.SymbolCount, &stats.RelationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count index: %w", err)
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{"SELECT language, COUNT(*) FROM files GROUP BY language", stats.FilesByLanguage},
		{"SELECT language, COUNT(*) FROM symbols GROUP BY language", stats.SymbolsByLanguage},
		{"SELECT kind, COUNT(*) FROM symbols GROUP BY kind", stats.SymbolsByKind},
		{"SELECT relation_type, COUNT(*) FROM relations GROUP BY relation_type", stats.RelationsByType},
	}
	for _, g := range groups {
		if err := countGroups(ctx, q, g.query, g.into); err != nil {
			return nil, err
		}
	}

	last, err := s.getMetaWithQuerier(ctx, q, MetaLastIndexedAt)
	if err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, last); perr == nil {
			stats.LastIndexedAt = &ts
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return stats, nil
}

func countGroups(ctx context.Context, q querier, query string, into map[string]int) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to group counts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// Stats returns file, symbol and relation counts with per-language breakdowns
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	return s.statsWithQuerier(ctx, s.querier())
}

// Helpers

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeStrings(values []string) interface{} {
	if len(values) == 0 {
		return nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(b)
}

func decodeStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ftsPrefixQuery turns free text into an FTS5 query of quoted prefix terms.
// Only letters and digits survive, so FTS operators cannot be injected.
func ftsPrefixQuery(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, `"`+tok+`"*`)
	}
	return strings.Join(terms, " OR ")
}

// Transaction implementations

func (t *sqliteTx) UpsertFile(ctx context.Context, file *types.FileMeta) (int64, error) {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) GetFile(ctx context.Context, path string) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), "path = ?", path)
}

func (t *sqliteTx) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), "id = ?", fileID)
}

func (t *sqliteTx) ListFiles(ctx context.Context) ([]*File, error) {
	return t.storage.listFilesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) FileFingerprints(ctx context.Context) (map[string]string, error) {
	return t.storage.fileFingerprintsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ClearFingerprints(ctx context.Context, paths []string) error {
	return t.storage.clearFingerprintsWithQuerier(ctx, t.querier(), paths)
}

func (t *sqliteTx) DeleteFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) UpsertSymbol(ctx context.Context, fileID int64, symbol *types.Symbol) error {
	return t.storage.upsertSymbolWithQuerier(ctx, t.querier(), fileID, symbol)
}

func (t *sqliteTx) GetSymbol(ctx context.Context, symbolID string) (*types.Symbol, error) {
	return t.storage.getSymbolWithQuerier(ctx, t.querier(), symbolID)
}

func (t *sqliteTx) GetSymbols(ctx context.Context, symbolIDs []string) ([]types.Symbol, error) {
	return t.storage.getSymbolsWithQuerier(ctx, t.querier(), symbolIDs)
}

func (t *sqliteTx) ListSymbolsByFile(ctx context.Context, fileID int64) ([]types.Symbol, error) {
	return t.storage.listSymbolsByFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) ListSymbols(ctx context.Context, afterID string, limit int) ([]types.Symbol, error) {
	return t.storage.listSymbolsWithQuerier(ctx, t.querier(), afterID, limit)
}

func (t *sqliteTx) DeleteSymbolsOfFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteSymbolsOfFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) PruneSymbolsOfFile(ctx context.Context, fileID int64, keep []string) (int, error) {
	return t.storage.pruneSymbolsOfFileWithQuerier(ctx, t.querier(), fileID, keep)
}

func (t *sqliteTx) FindSymbolByName(ctx context.Context, name string, exact bool) (*types.Symbol, error) {
	return t.storage.findSymbolByNameWithQuerier(ctx, t.querier(), name, exact)
}

func (t *sqliteTx) FindSymbolsByName(ctx context.Context, name string, exact bool, limit int) ([]types.Symbol, error) {
	return t.storage.findSymbolsByNameWithQuerier(ctx, t.querier(), name, exact, limit)
}

func (t *sqliteTx) SearchSymbols(ctx context.Context, query string, limit int) ([]types.ScoredSymbol, error) {
	return t.storage.searchSymbolsWithQuerier(ctx, t.querier(), query, limit)
}

func (t *sqliteTx) UpsertRelation(ctx context.Context, rel types.Relation) error {
	return t.storage.upsertRelationWithQuerier(ctx, t.querier(), rel)
}

func (t *sqliteTx) GetRelations(ctx context.Context, symbolID string, dir types.Direction) ([]types.Relation, error) {
	return t.storage.getRelationsWithQuerier(ctx, t.querier(), symbolID, dir)
}

func (t *sqliteTx) DeleteRelationsFromFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteRelationsFromFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) SetMeta(ctx context.Context, key, value string) error {
	return t.storage.setMetaWithQuerier(ctx, t.querier(), key, value)
}

func (t *sqliteTx) GetMeta(ctx context.Context, key string) (string, error) {
	return t.storage.getMetaWithQuerier(ctx, t.querier(), key)
}

func (t *sqliteTx) Stats(ctx context.Context) (*Stats, error) {
	return t.storage.statsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
