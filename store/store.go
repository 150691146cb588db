// Package store is the graph store adapter: typed node/edge upserts, exact
// lookups, and traversal queries against the SQLite-backed property graph.
// Every write is validated against the schema descriptor before it reaches
// the database, so all write paths get the same guarantee.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexgraph/lexgraph/schema"
)

var (
	// ErrNotFound is returned when a requested entity id does not exist.
	// Distinct from an empty result set, which is not an error.
	ErrNotFound = errors.New("lexgraph: entity not found")

	// ErrQueryExecution is returned when the backend rejects an otherwise
	// schema-valid query.
	ErrQueryExecution = errors.New("lexgraph: query execution failed")
)

// Store wraps the SQLite database holding the property graph. Safe for
// concurrent use; SQLite's own locking plus idempotent upserts are the only
// concurrency control.
type Store struct {
	db   *sql.DB
	desc *schema.Descriptor
}

// New opens (or creates) the graph database at dbPath and initialises the
// node/edge tables. The descriptor governs all subsequent writes.
func New(dbPath string, desc *schema.Descriptor) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" && !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating graph tables: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, desc: desc}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB. The vector index shares this handle for
// its own virtual table.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Descriptor returns the schema descriptor governing this store.
func (s *Store) Descriptor() *schema.Descriptor {
	return s.desc
}

// --- Writes ---

// UpsertEntity validates the entity against the schema and writes it.
// Idempotent keyed on (label, id): re-applying the same write is a no-op,
// changed properties overwrite, never a duplicate. Returns the node rowid.
func (s *Store) UpsertEntity(ctx context.Context, e schema.Entity) (int64, error) {
	if err := s.desc.ValidateEntity(e); err != nil {
		return 0, err
	}

	props, err := json.Marshal(propsOrEmpty(e.Properties))
	if err != nil {
		return 0, fmt.Errorf("encoding properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (label, node_id, properties)
		VALUES (?, ?, ?)
		ON CONFLICT(label, node_id) DO UPDATE SET
			properties = excluded.properties,
			updated_at = CURRENT_TIMESTAMP
	`, e.Label, e.ID, string(props))
	if err != nil {
		return 0, fmt.Errorf("upserting %s %s: %w", e.Label, e.ID, err)
	}

	var rowid int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM nodes WHERE label = ? AND node_id = ?", e.Label, e.ID).Scan(&rowid)
	if err != nil {
		return 0, err
	}
	return rowid, nil
}

// UpsertRelationship validates the relationship against the allowed-triples
// table and writes it. Idempotent keyed on the endpoint 5-tuple.
func (s *Store) UpsertRelationship(ctx context.Context, r schema.Relationship) error {
	if err := s.desc.ValidateRelationship(r); err != nil {
		return err
	}

	props, err := json.Marshal(propsOrEmpty(r.Properties))
	if err != nil {
		return fmt.Errorf("encoding properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (rel_type, source_label, source_id, target_label, target_id, properties)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(rel_type, source_label, source_id, target_label, target_id) DO UPDATE SET
			properties = excluded.properties
	`, r.Type, r.SourceLabel, r.SourceID, r.TargetLabel, r.TargetID, string(props))
	if err != nil {
		return fmt.Errorf("upserting (%s)-[%s]->(%s): %w", r.SourceID, r.Type, r.TargetID, err)
	}
	return nil
}

func propsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// --- Exact lookups ---

// GetEntity retrieves an entity by label and id. Returns ErrNotFound if no
// such node exists.
func (s *Store) GetEntity(ctx context.Context, label, id string) (*schema.Entity, error) {
	var props string
	err := s.db.QueryRowContext(ctx,
		"SELECT properties FROM nodes WHERE label = ? AND node_id = ?", label, id).Scan(&props)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, label, id)
	}
	if err != nil {
		return nil, err
	}

	e := &schema.Entity{ID: id, Label: label}
	if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
		return nil, fmt.Errorf("decoding properties of %s %s: %w", label, id, err)
	}
	return e, nil
}

// EntityRowID returns the integer rowid for a node. The vector index keys
// embeddings by this rowid.
func (s *Store) EntityRowID(ctx context.Context, label, id string) (int64, error) {
	var rowid int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM nodes WHERE label = ? AND node_id = ?", label, id).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %s", ErrNotFound, label, id)
	}
	return rowid, err
}

// --- Structured query execution ---

// QueryResult holds the rows produced by a structured query, in execution
// order, with the column names the query selected.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// maxQueryRows bounds the result set of a translated query.
const maxQueryRows = 1000

// RunStructuredQuery executes a pre-validated read-only query and returns its
// rows. Backend failures wrap ErrQueryExecution; result rows naming labels or
// relationship types outside the schema fail the defensive check with a
// schema violation.
func (s *Store) RunStructuredQuery(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryExecution, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryExecution, err)
	}

	res := &QueryResult{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryExecution, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, values)
		if len(res.Rows) >= maxQueryRows {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryExecution, err)
	}

	if err := s.checkResultLabels(res); err != nil {
		return nil, err
	}
	return res, nil
}

// checkResultLabels rejects result sets whose label or relationship-type
// columns carry values outside the registered schema.
func (s *Store) checkResultLabels(res *QueryResult) error {
	for i, col := range res.Columns {
		var isLabel, isRel bool
		switch col {
		case "label", "source_label", "target_label":
			isLabel = true
		case "rel_type":
			isRel = true
		default:
			continue
		}
		for _, row := range res.Rows {
			v, ok := row[i].(string)
			if !ok {
				continue
			}
			if isLabel && !s.desc.HasLabel(v) {
				return fmt.Errorf("%w: result references unknown label %q", schema.ErrViolation, v)
			}
			if isRel && !s.desc.HasRelation(v) {
				return fmt.Errorf("%w: result references unknown relationship type %q", schema.ErrViolation, v)
			}
		}
	}
	return nil
}

// --- Stats ---

// Stats holds node counts per label plus the total edge count.
type Stats struct {
	Nodes map[string]int `json:"nodes"`
	Edges int            `json:"edges"`
}

// GraphStats returns node counts per label and the edge total.
func (s *Store) GraphStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Nodes: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT label, COUNT(*) FROM nodes GROUP BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		stats.Nodes[label] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&stats.Edges); err != nil {
		return nil, err
	}
	return stats, nil
}
