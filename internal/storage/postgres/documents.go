package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Documents stores annotated tables under dense ids and serves them back as
// a random-access index.
type Documents struct {
	pool  pgxIface
	table string
}

// NewDocuments opens a pool and returns a Documents table handle.
func NewDocuments(ctx context.Context, cfg PoolConfig, table string) (*Documents, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	docs, err := NewDocumentsWithPool(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return docs, nil
}

// NewDocumentsWithPool constructs a handle from an existing pool (primarily for testing).
func NewDocumentsWithPool(pool pgxIface, table string) (*Documents, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Documents{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (d *Documents) Close() {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.Close()
}

// EnsureSchema creates the documents table when missing.
func (d *Documents) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY, body TEXT NOT NULL);`, d.table)
	if _, err := d.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

// PutDocument inserts or replaces document id.
func (d *Documents) PutDocument(ctx context.Context, id int64, body string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, body) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body`, d.table)
	if _, err := d.pool.Exec(ctx, query, id, body); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Len returns the size of the id space, max(id)+1.
func (d *Documents) Len(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(id) + 1, 0) FROM %s`, d.table)
	var n int64
	if err := d.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(n), nil
}

// Document loads one document.
func (d *Documents) Document(ctx context.Context, id int) (string, error) {
	query := fmt.Sprintf(`SELECT body FROM %s WHERE id = $1`, d.table)
	var body string
	if err := d.pool.QueryRow(ctx, query, int64(id)).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("document %d missing", id)
		}
		return "", fmt.Errorf("load document %d: %w", id, err)
	}
	return body, nil
}

// ReadRange streams [start, end) in id order. A gap in the ids is an error.
func (d *Documents) ReadRange(ctx context.Context, start, end int, fn func(id int, doc string) error) error {
	query := fmt.Sprintf(`SELECT id, body FROM %s WHERE id >= $1 AND id < $2 ORDER BY id`, d.table)
	rows, err := d.pool.Query(ctx, query, int64(start), int64(end))
	if err != nil {
		return fmt.Errorf("query documents [%d,%d): %w", start, end, err)
	}
	defer rows.Close()

	next := start
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return fmt.Errorf("scan document row: %w", err)
		}
		if int(id) != next {
			return fmt.Errorf("document %d missing", next)
		}
		if err := fn(next, body); err != nil {
			return err
		}
		next++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate documents: %w", err)
	}
	if next != end {
		return fmt.Errorf("document %d missing", next)
	}
	return nil
}
