package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/hpungsan/feedlens/internal/errors"
)

// KV is a key-value store over the kv table.
type KV struct {
	db *sql.DB
}

// NewKV wraps an initialized database.
func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

// Get returns the value stored at key.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound(key)
	}
	if err != nil {
		return nil, wrapErr(ctx, "get", err)
	}
	return value, nil
}

// Put inserts or replaces the value at key.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return wrapErr(ctx, "put", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return wrapErr(ctx, "delete", err)
	}
	return nil
}

// Keys returns keys starting with prefix in ascending order.
func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	// substr comparison is case-sensitive, unlike LIKE
	query := `SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key ASC`
	rows, err := s.db.QueryContext(ctx, query, prefix, prefix)
	if err != nil {
		return nil, wrapErr(ctx, "keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.NewInternal(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(ctx, "keys", err)
	}
	return keys, nil
}

func wrapErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(op)
	}
	return errors.NewInternal(err)
}
