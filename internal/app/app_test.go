package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/db"
	"github.com/hpungsan/feedlens/internal/ops"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/stats"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.FinalizeGraceMs = 300
	cfg.SettleDelayMs = 10

	a, err := Open(context.Background(), database, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_UnknownStorage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage = "etcd"
	_, err := Open(context.Background(), nil, cfg)
	require.Error(t, err)
}

func TestOpen_SQLiteRequiresDatabase(t *testing.T) {
	_, err := Open(context.Background(), nil, config.DefaultConfig())
	require.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	started, err := a.Aggregator.Start(ctx, session.StartInput{Platform: session.PlatformInstagram, TabID: "tab-1"})
	require.NoError(t, err)

	raw, err := a.Aggregator.RawUpdate(ctx, &session.RawUpdate{
		SessionID: started.SessionID,
		Snapshots: []session.Snapshot{{
			Platform: session.PlatformInstagram,
			Finalize: true,
			Items: []session.Observation{
				{Key: "p1", Caption: "Amazing sunset yoga session, so relaxed", DwellMs: 20000},
				{Key: "p2", Caption: "Breaking news: election results today", DwellMs: 10000},
			},
		}},
	})
	require.NoError(t, err)
	require.True(t, raw.Accepted)

	time.Sleep(20 * time.Millisecond)
	_, err = a.Aggregator.Stop(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := a.Aggregator.Status(ctx)
		return err == nil && !st.IsProcessing && st.State == session.StateClosed
	}, 5*time.Second, 20*time.Millisecond)

	last, err := ops.LastSession(ctx, a.Store)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, started.SessionID, last.SessionID)
	require.Len(t, last.PerItem, 2)
	require.Equal(t, taxonomy.Positive, last.PerItem[0].Emotion)

	b, err := a.Stats.Read(ctx, stats.DateKey(last.StartedAt))
	require.NoError(t, err)
	require.Equal(t, 1, b.SessionCount)
	require.Equal(t, last.DurationMs, b.TotalMs)
}
