package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/codeindex/pkg/types"
)

// searchOptimized computes cosine distance in SQL via sqlite-vec and streams
// rows nearest first, applying the path glob in Go
func (s *Store) searchOptimized(ctx context.Context, query []float32, limit int, filter *Filter) ([]Match, error) {
	blob, err := encodeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	sqlQuery := `
		SELECT id, file_path, name, kind, language, text_hash,
		       vec_distance_cosine(vector, ?) AS distance
		FROM vectors
		WHERE dims = ?
	`
	args := []interface{}{blob, len(query)}
	sqlQuery, args = applyFilters(sqlQuery, args, filter)
	sqlQuery += " ORDER BY distance"
	if filter == nil || filter.PathGlob == "" {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Match, 0, limit)
	for rows.Next() && len(results) < limit {
		var m Match
		var kind string
		if err := rows.Scan(&m.ID, &m.Metadata.FilePath, &m.Metadata.Name, &kind,
			&m.Metadata.Language, &m.Metadata.TextHash, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		m.Metadata.Kind = types.SymbolKind(kind)
		if !matchPath(filter, m.Metadata.FilePath) {
			continue
		}
		m.Score = 1 - m.Distance
		results = append(results, m)
	}
	return results, rows.Err()
}

// searchFallback loads candidate vectors and ranks them in Go
func (s *Store) searchFallback(ctx context.Context, query []float32, limit int, filter *Filter) ([]Match, error) {
	sqlQuery := `
		SELECT id, file_path, name, kind, language, text_hash, vector
		FROM vectors
		WHERE dims = ?
	`
	args := []interface{}{len(query)}
	sqlQuery, args = applyFilters(sqlQuery, args, filter)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, query, filter)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// applyFilters adds WHERE clause filters for kind and language
func applyFilters(query string, args []interface{}, filter *Filter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}
	if len(filter.Kinds) > 0 {
		query += " AND kind IN ("
		for i, k := range filter.Kinds {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, string(k))
		}
		query += ")"
	}
	if filter.Language != "" {
		query += " AND language = ?"
		args = append(args, filter.Language)
	}
	return query, args
}

// Validate checks the glob and kinds of a filter
func (f *Filter) Validate() error {
	if f.PathGlob != "" && !doublestar.ValidatePattern(f.PathGlob) {
		return fmt.Errorf("invalid path glob %q", f.PathGlob)
	}
	for _, k := range f.Kinds {
		if _, err := types.ParseSymbolKind(string(k)); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether md satisfies every criterion of the filter
func (f *Filter) Matches(md Metadata) bool {
	if f == nil {
		return true
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == md.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Language != "" && f.Language != md.Language {
		return false
	}
	return matchPath(f, md.FilePath)
}

func matchPath(filter *Filter, path string) bool {
	if filter == nil || filter.PathGlob == "" {
		return true
	}
	ok, err := doublestar.Match(filter.PathGlob, path)
	return err == nil && ok
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, query []float32, filter *Filter) ([]Match, error) {
	candidates := make([]Match, 0, 256)
	for rows.Next() {
		var m Match
		var kind string
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Metadata.FilePath, &m.Metadata.Name, &kind,
			&m.Metadata.Language, &m.Metadata.TextHash, &blob); err != nil {
			return nil, err
		}
		if !matchPath(filter, m.Metadata.FilePath) {
			continue
		}
		vector := deserializeVector(blob)
		if len(vector) != len(query) {
			continue // Dimension mismatch, skip
		}
		m.Metadata.Kind = types.SymbolKind(kind)
		m.Score = cosineSimilarity(query, vector)
		m.Distance = 1 - m.Score
		candidates = append(candidates, m)
	}
	return candidates, rows.Err()
}

// sortCandidates orders by similarity, ties broken by id for stable output
func sortCandidates(candidates []Match) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
