package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sigil-dev/sigil/internal/doc"
)

// Read returns the current document at the given key, or nil when the
// key has never been written.
func (s *Store) Read(ctx context.Context, key string) (*doc.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, type, version, created_at, updated_at, produced_by, data
		FROM documents WHERE key = ?
	`, key)

	d, err := scanDocument(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return d, nil
}

// List returns the keys currently under a prefix, sorted.
// The prefix "/" lists every key; otherwise a key is under the prefix
// when it equals the prefix or extends it by a path segment.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if prefix == "/" || prefix == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key FROM documents ORDER BY key`)
	} else {
		prefix = strings.TrimSuffix(prefix, "/")
		rows, err = s.db.QueryContext(ctx, `
			SELECT key FROM documents
			WHERE key = ? OR key LIKE ? || '/%'
			ORDER BY key
		`, prefix, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*doc.Document, error) {
	var (
		d          doc.Document
		createdAt  string
		updatedAt  string
		producedBy sql.NullString
		data       string
	)
	if err := row.Scan(&d.Key, &d.Type, &d.Meta.Version, &createdAt, &updatedAt, &producedBy, &data); err != nil {
		return nil, err
	}

	var err error
	if d.Meta.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.Meta.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if producedBy.Valid {
		d.Meta.ProducedBy = producedBy.String
	}
	if d.Data, err = doc.DecodeData([]byte(data)); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &d, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
