package kv

import (
	"context"
	"os"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/errors"
)

// exerciseStore runs the behaviors every Store must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, s.Put(ctx, "daily:2026-01-02", []byte(`{"totalMs":1}`)))
	require.NoError(t, s.Put(ctx, "daily:2026-01-01", []byte(`{"totalMs":2}`)))
	require.NoError(t, s.Put(ctx, "session:last", []byte(`"x"`)))

	got, err := s.Get(ctx, "daily:2026-01-01")
	require.NoError(t, err)
	require.JSONEq(t, `{"totalMs":2}`, string(got))

	// overwrite
	require.NoError(t, s.Put(ctx, "daily:2026-01-01", []byte(`{"totalMs":3}`)))
	got, err = s.Get(ctx, "daily:2026-01-01")
	require.NoError(t, err)
	require.JSONEq(t, `{"totalMs":3}`, string(got))

	keys, err := s.Keys(ctx, "daily:")
	require.NoError(t, err)
	require.Equal(t, []string{"daily:2026-01-01", "daily:2026-01-02"}, keys)

	require.NoError(t, s.Delete(ctx, "daily:2026-01-01"))
	require.NoError(t, s.Delete(ctx, "daily:never-existed"))
	keys, err = s.Keys(ctx, "daily:")
	require.NoError(t, err)
	require.Equal(t, []string{"daily:2026-01-02"}, keys)

	type bucket struct {
		TotalMs int64 `json:"totalMs"`
	}
	var b bucket
	ok, err := GetJSON(ctx, s, "daily:2026-01-02", &b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), b.TotalMs)

	ok, err = GetJSON(ctx, s, "daily:1999-01-01", &b)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, PutJSON(ctx, s, "daily:2026-01-03", bucket{TotalMs: 9}))
	ok, err = GetJSON(ctx, s, "daily:2026-01-03", &b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), b.TotalMs)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", v))
	v[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemory().Put(ctx, "k", nil)
	require.True(t, errors.Is(err, errors.ErrCancelled))
}

func TestGetJSON_CorruptValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "k", []byte("{not json")))

	var v map[string]any
	_, err := GetJSON(ctx, m, "k", &v)
	require.True(t, errors.Is(err, errors.ErrInternal))
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	// unique namespace per run so parallel runs do not collide
	ns := "feedlens-test:" + ulid.Make().String() + ":"
	r, err := NewRedis(ctx, RedisOptions{Addr: addr, Namespace: ns})
	require.NoError(t, err)
	defer r.Close()

	exerciseStore(t, r)

	keys, err := r.Keys(ctx, "")
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, r.Delete(ctx, k))
	}
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestGlobEscape(t *testing.T) {
	require.Equal(t, `feedlens:a\*b\?c\[d\]`, globEscape("feedlens:a*b?c[d]"))
}
