package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sigil-dev/sigil/internal/doc"
)

// Write persists a document and returns it with store-assigned
// metadata. The caller supplies Key, Type, Data, and optionally
// ProducedBy; the store assigns version = previous + 1 (starting at 1)
// and the created/updated timestamps.
//
// The persisted document is delivered to every subscription whose glob
// matches the key. Writes are serialized, so deliveries on one
// subscription arrive in write order.
func (s *Store) Write(ctx context.Context, d doc.Document) (doc.Document, error) {
	dataJSON, err := doc.MarshalCanonical(d.Data)
	if err != nil {
		return doc.Document{}, fmt.Errorf("write %s: %w", d.Key, err)
	}

	// Hold the write lock across commit and notification so every
	// subscription observes the same write order.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return doc.Document{}, fmt.Errorf("write %s: store is closed", d.Key)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return doc.Document{}, fmt.Errorf("write %s: begin tx: %w", d.Key, err)
	}
	defer tx.Rollback() // No-op if committed

	now := time.Now().UTC()
	version := int64(1)
	createdAt := now

	var prevVersion int64
	var prevCreated string
	err = tx.QueryRowContext(ctx,
		`SELECT version, created_at FROM documents WHERE key = ?`, d.Key,
	).Scan(&prevVersion, &prevCreated)
	switch {
	case err == nil:
		version = prevVersion + 1
		createdAt, err = time.Parse(time.RFC3339Nano, prevCreated)
		if err != nil {
			return doc.Document{}, fmt.Errorf("write %s: parse created_at: %w", d.Key, err)
		}
	case isNoRows(err):
		// First write for this key.
	default:
		return doc.Document{}, fmt.Errorf("write %s: read previous version: %w", d.Key, err)
	}

	var producedBy any
	if d.Meta.ProducedBy != "" {
		producedBy = d.Meta.ProducedBy
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (key, type, version, created_at, updated_at, produced_by, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			type = excluded.type,
			version = excluded.version,
			updated_at = excluded.updated_at,
			produced_by = excluded.produced_by,
			data = excluded.data
	`,
		d.Key,
		d.Type,
		version,
		createdAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		producedBy,
		string(dataJSON),
	)
	if err != nil {
		return doc.Document{}, fmt.Errorf("write %s: %w", d.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return doc.Document{}, fmt.Errorf("write %s: commit: %w", d.Key, err)
	}

	persisted := d
	persisted.Meta.Version = version
	persisted.Meta.CreatedAt = createdAt
	persisted.Meta.UpdatedAt = now

	for _, sub := range s.subs {
		if sub.glob.Matches(persisted.Key) {
			sub.enqueue(persisted)
		}
	}

	return persisted, nil
}
