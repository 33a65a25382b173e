package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/classifier"
	"github.com/hpungsan/feedlens/internal/db"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

func sumMs[K comparable](m map[K]int64) int64 {
	var s int64
	for _, v := range m {
		s += v
	}
	return s
}

func scenarioResult() analysis.Result {
	return classifier.Classify([]analysis.Item{
		{Key: "1", Caption: "Amazing sunset yoga session, so relaxed", DwellMs: 20_000},
		{Key: "2", Caption: "Breaking news: election results today", DwellMs: 10_000},
	})
}

func TestFold_MsSumInvariant(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory())

	b, err := s.Fold(ctx, "2026-03-01", 31_337, scenarioResult())
	require.NoError(t, err)

	require.Equal(t, int64(31_337), b.TotalMs)
	require.Equal(t, 1, b.SessionCount)
	require.Equal(t, b.TotalMs, sumMs(b.TopicMs))
	require.Equal(t, b.TotalMs, sumMs(b.EmotionMs))
	require.Equal(t, b.TotalMs, sumMs(b.EngagementMs))

	var matrix int64
	for _, row := range b.PerTopicEmotionMs {
		matrix += sumMs(row)
	}
	require.Equal(t, b.TotalMs, matrix)
}

func TestFold_Additive(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory())
	r := scenarioResult()

	_, err := s.Fold(ctx, "2026-03-01", 1_000, r)
	require.NoError(t, err)
	_, err = s.Fold(ctx, "2026-03-01", 2_501, analysis.Uniform(analysis.MethodHeuristic))
	require.NoError(t, err)

	b, err := s.Read(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Equal(t, int64(3_501), b.TotalMs)
	require.Equal(t, 2, b.SessionCount)
	require.Equal(t, int64(3_501), sumMs(b.TopicMs))
	require.Equal(t, int64(3_501), sumMs(b.EmotionMs))
}

func TestFold_OrderIndependent(t *testing.T) {
	ctx := context.Background()
	a, b := scenarioResult(), analysis.Uniform(analysis.MethodHeuristic)

	s1 := New(kv.NewMemory())
	_, _ = s1.Fold(ctx, "2026-03-01", 7_000, a)
	_, _ = s1.Fold(ctx, "2026-03-01", 3_333, b)

	s2 := New(kv.NewMemory())
	_, _ = s2.Fold(ctx, "2026-03-01", 3_333, b)
	_, _ = s2.Fold(ctx, "2026-03-01", 7_000, a)

	b1, err := s1.Read(ctx, "2026-03-01")
	require.NoError(t, err)
	b2, err := s2.Read(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestFold_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Fold(ctx, "2026-03-01", 100, scenarioResult())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := s.Read(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Equal(t, 20, b.SessionCount)
	require.Equal(t, int64(2_000), b.TotalMs)
}

func TestRead_MissingIsEmpty(t *testing.T) {
	b, err := New(kv.NewMemory()).Read(context.Background(), "2026-03-09")
	require.NoError(t, err)
	require.Equal(t, "2026-03-09", b.Date)
	require.Zero(t, b.TotalMs)
	require.Len(t, b.TopicMs, 4)
	require.Len(t, b.PerTopicEmotionMs[taxonomy.DisplaySocial], 3)
}

func TestRead_InvalidDate(t *testing.T) {
	s := New(kv.NewMemory())
	_, err := s.Read(context.Background(), "yesterday")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = s.Fold(context.Background(), "2026-13-01", 1, scenarioResult())
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDatesAllDelete(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := New(store)

	for _, d := range []string{"2026-03-02", "2026-02-28", "2026-03-01"} {
		_, err := s.Fold(ctx, d, 10, scenarioResult())
		require.NoError(t, err)
	}
	require.NoError(t, store.Put(ctx, KeyPrefix+"garbage", []byte("{}")))

	dates, err := s.Dates(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-02-28", "2026-03-01", "2026-03-02"}, dates)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(10), all["2026-03-01"].TotalMs)

	require.NoError(t, s.Delete(ctx, "2026-02-28"))
	dates, err = s.Dates(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-03-01", "2026-03-02"}, dates)
}

func TestFold_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer conn.Close()

	s := New(db.NewKV(conn))
	_, err = s.Fold(ctx, "2026-03-01", 12_345, scenarioResult())
	require.NoError(t, err)

	b, err := s.Read(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Equal(t, int64(12_345), sumMs(b.TopicMs))
}

func TestDateKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.Local)
	require.Equal(t, "2026-03-01", DateKey(ts))
	require.True(t, ValidDate("2026-03-01"))
	require.False(t, ValidDate("03/01/2026"))
}

func TestFoldSession_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory())

	b, folded, err := s.FoldSession(ctx, "s-1", "2026-03-01", 60_000, scenarioResult())
	require.NoError(t, err)
	require.True(t, folded)
	require.Equal(t, []string{"s-1"}, b.SessionIDs)

	b, folded, err = s.FoldSession(ctx, "s-1", "2026-03-01", 60_000, scenarioResult())
	require.NoError(t, err)
	require.False(t, folded)
	require.Equal(t, 1, b.SessionCount)
	require.Equal(t, int64(60_000), b.TotalMs)

	// the id list survives a read, so a later process also skips it
	stored, err := s.Read(ctx, "2026-03-01")
	require.NoError(t, err)
	require.True(t, stored.Has("s-1"))
	require.False(t, stored.Has("s-2"))

	_, _, err = s.FoldSession(ctx, "", "2026-03-01", 60_000, scenarioResult())
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
