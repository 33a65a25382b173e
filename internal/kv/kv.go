// Package kv defines the key-value store contract the statistics and session
// layers persist through, with in-memory and Redis implementations. The
// SQLite implementation lives in package db.
package kv

import (
	"context"
	"encoding/json"

	"github.com/hpungsan/feedlens/internal/errors"
)

// Store is a flat namespace of byte values.
// Get returns a NOT_FOUND *errors.LensError for missing keys.
// Keys returns matching keys in ascending order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// GetJSON decodes the value at key into v. Returns false with no error if
// the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, key, data)
}
