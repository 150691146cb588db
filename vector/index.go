// Package vector is the nearest-neighbor index over excerpt embeddings,
// backed by a sqlite-vec vec0 virtual table. It owns the physical write path
// for embedding records; the graph store never touches them.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the registered index dimension.
	ErrDimensionMismatch = errors.New("lexgraph: embedding dimension mismatch")

	// ErrInvalidArgument is returned for out-of-contract caller parameters.
	ErrInvalidArgument = errors.New("lexgraph: invalid argument")
)

// Hit is one nearest-neighbor match: the excerpt's node rowid and its
// cosine similarity to the query vector.
type Hit struct {
	ExcerptRowID int64   `json:"excerpt_rowid"`
	Similarity   float64 `json:"similarity"`
}

// Index wraps the vec0 virtual table. The dimension is fixed at creation and
// never changes for the life of the index.
type Index struct {
	db  *sql.DB
	dim int
}

// NewIndex creates (or attaches to) the vec_excerpts virtual table on the
// given database handle.
func NewIndex(db *sql.DB, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalidArgument, dim)
	}
	_, err := db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_excerpts USING vec0(
			excerpt_rowid INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		)`, dim))
	if err != nil {
		return nil, fmt.Errorf("creating vector table: %w", err)
	}
	return &Index{db: db, dim: dim}, nil
}

// Dim returns the registered embedding dimension.
func (ix *Index) Dim() int {
	return ix.dim
}

// IndexEmbedding stores the vector for an excerpt, replacing any previous
// one. Rejects vectors of the wrong dimension before touching the backend.
func (ix *Index) IndexEmbedding(ctx context.Context, excerptRowID int64, vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("%w: got %d, index dimension is %d", ErrDimensionMismatch, len(vec), ix.dim)
	}
	// vec0 virtual tables do not support INSERT OR REPLACE, so replace is a
	// delete followed by an insert within one transaction.
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexing embedding for excerpt %d: %w", excerptRowID, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM vec_excerpts WHERE excerpt_rowid = ?", excerptRowID); err != nil {
		return fmt.Errorf("indexing embedding for excerpt %d: %w", excerptRowID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO vec_excerpts (excerpt_rowid, embedding) VALUES (?, ?)",
		excerptRowID, serialize(vec)); err != nil {
		return fmt.Errorf("indexing embedding for excerpt %d: %w", excerptRowID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("indexing embedding for excerpt %d: %w", excerptRowID, err)
	}
	return nil
}

// Has reports whether an embedding exists for the excerpt. Used by ingestion
// to resume after a partial failure.
func (ix *Index) Has(ctx context.Context, excerptRowID int64) (bool, error) {
	var n int
	err := ix.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vec_excerpts WHERE excerpt_rowid = ?", excerptRowID).Scan(&n)
	return n > 0, err
}

// Count returns the number of indexed embeddings.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_excerpts").Scan(&n)
	return n, err
}

// Search returns up to topK excerpts nearest to the query vector, highest
// similarity first, ties broken by rowid ascending so repeated calls over a
// fixed index return identical orderings. Hits below minSimilarity are
// excluded, never returned with a sentinel score.
func (ix *Index) Search(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index dimension is %d", ErrDimensionMismatch, len(query), ix.dim)
	}

	// vec0 KNN queries allow only a bare ORDER BY distance; the rowid
	// tie-break is applied below after scanning.
	rows, err := ix.db.QueryContext(ctx, `
		SELECT excerpt_rowid, distance
		FROM vec_excerpts
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serialize(query), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		if err := rows.Scan(&h.ExcerptRowID, &distance); err != nil {
			return nil, err
		}
		h.Similarity = 1.0 - distance
		if h.Similarity < minSimilarity {
			continue
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ExcerptRowID < hits[j].ExcerptRowID
	})
	return hits, nil
}

// serialize converts a float32 slice to little-endian bytes for sqlite-vec.
func serialize(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
