package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/stats"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests
	return cfg
}

// exportOne records a single session into a fresh store and exports it.
func exportOne(t *testing.T, id string, startedAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	s, st := setupTestStore(t)
	require.NoError(t, NewRecorder(s, st, 10).Record(ctx, testRecord(id, startedAt)))

	path := filepath.Join(t.TempDir(), "backup.jsonl")
	out, err := Export(ctx, s, st, testConfig(), ExportInput{Path: path, IncludeSessions: true})
	require.NoError(t, err)
	require.Equal(t, 1, out.Days)
	require.Equal(t, 1, out.Sessions)
	return path
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	day := noon(2026, 3, 10)
	path := exportOne(t, "s-export", day)

	s, st := setupTestStore(t)
	out, err := Import(ctx, s, st, testConfig(), ImportInput{Path: path})
	require.NoError(t, err)
	require.Equal(t, 1, out.Days)
	require.Equal(t, 1, out.Sessions)
	require.Zero(t, out.Skipped)
	require.Empty(t, out.Errors)

	// the daily line already lists the session, so it is not folded again
	b, err := st.Read(ctx, stats.DateKey(day))
	require.NoError(t, err)
	require.Equal(t, 1, b.SessionCount)
	require.Equal(t, int64(60_000), b.TotalMs)

	rec, err := GetSession(ctx, s, "s-export")
	require.NoError(t, err)
	require.Equal(t, int64(60_000), rec.DurationMs)

	last, err := LastSession(ctx, s)
	require.NoError(t, err)
	require.Equal(t, "s-export", last.SessionID)

	t.Run("second import skips everything", func(t *testing.T) {
		out, err := Import(ctx, s, st, testConfig(), ImportInput{Path: path})
		require.NoError(t, err)
		require.Zero(t, out.Days)
		require.Zero(t, out.Sessions)
		require.Equal(t, 2, out.Skipped)

		b, err := st.Read(ctx, stats.DateKey(day))
		require.NoError(t, err)
		require.Equal(t, 1, b.SessionCount)
	})
}

func TestImport_SkipKeepsLocalBucket(t *testing.T) {
	ctx := context.Background()
	day := noon(2026, 3, 10)
	path := exportOne(t, "s-export", day)

	s, st := setupTestStore(t)
	require.NoError(t, NewRecorder(s, st, 10).Record(ctx, testRecord("s-local", day.Add(time.Hour))))

	out, err := Import(ctx, s, st, testConfig(), ImportInput{Path: path, Mode: ImportModeSkip})
	require.NoError(t, err)
	require.Zero(t, out.Days)
	require.Equal(t, 1, out.Skipped)
	require.Equal(t, 1, out.Sessions)

	// the imported session is folded into the kept local bucket
	b, err := st.Read(ctx, stats.DateKey(day))
	require.NoError(t, err)
	require.Equal(t, 2, b.SessionCount)
	require.Equal(t, int64(120_000), b.TotalMs)
	require.True(t, b.Has("s-local"))
	require.True(t, b.Has("s-export"))
}

func TestImport_ReplaceOverwritesBucket(t *testing.T) {
	ctx := context.Background()
	day := noon(2026, 3, 10)
	path := exportOne(t, "s-export", day)

	s, st := setupTestStore(t)
	r := NewRecorder(s, st, 10)
	require.NoError(t, r.Record(ctx, testRecord("s-local-1", day.Add(time.Hour))))
	require.NoError(t, r.Record(ctx, testRecord("s-local-2", day.Add(2*time.Hour))))

	out, err := Import(ctx, s, st, testConfig(), ImportInput{Path: path, Mode: ImportModeReplace})
	require.NoError(t, err)
	require.Equal(t, 1, out.Days)
	require.Equal(t, 1, out.Sessions)
	require.Zero(t, out.Skipped)

	b, err := st.Read(ctx, stats.DateKey(day))
	require.NoError(t, err)
	require.Equal(t, 1, b.SessionCount)
	require.Equal(t, int64(60_000), b.TotalMs)
	require.Equal(t, []string{"s-export"}, b.SessionIDs)

	// local records are kept, only the bucket was replaced
	_, err = GetSession(ctx, s, "s-local-1")
	require.NoError(t, err)
}

func TestImport_UsesConfiguredHistoryLimit(t *testing.T) {
	ctx := context.Background()
	base := noon(2026, 3, 10)

	s, st := setupTestStore(t)
	r := NewRecorder(s, st, 100)
	for i := 1; i <= 30; i++ {
		id := fmt.Sprintf("s-%02d", i)
		require.NoError(t, r.Record(ctx, testRecord(id, base.Add(time.Duration(i)*time.Minute))))
	}

	path := exportOne(t, "s-imported", base.Add(time.Hour))

	cfg := testConfig()
	cfg.HistoryLimit = 100
	out, err := Import(ctx, s, st, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	require.Equal(t, 1, out.Sessions)

	hist, err := History(ctx, s, HistoryInput{Limit: MaxHistoryLimit})
	require.NoError(t, err)
	require.Equal(t, 31, hist.Pagination.Total)
	require.Equal(t, "s-imported", hist.Sessions[0].SessionID)

	for i := 1; i <= 30; i++ {
		id := fmt.Sprintf("s-%02d", i)
		_, err := GetSession(ctx, s, id)
		require.NoError(t, err, id)
	}
}

func TestImport_LineErrors(t *testing.T) {
	ctx := context.Background()
	s, st := setupTestStore(t)

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	content := `{"_feedlens_export":true,"schema_version":"1.0"}
not json
{"type":"daily","bucket":{"date":"someday"}}
{"type":"mystery"}
{"type":"session","session":{"sessionId":"last"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	out, err := Import(ctx, s, st, testConfig(), ImportInput{Path: path})
	require.NoError(t, err)
	require.Zero(t, out.Days)
	require.Zero(t, out.Sessions)
	require.Len(t, out.Errors, 4)
	require.Equal(t, 2, out.Errors[0].Line)
	require.Equal(t, "PARSE_ERROR", out.Errors[0].Code)
	for _, e := range out.Errors[1:] {
		require.Equal(t, "INVALID_RECORD", e.Code)
	}
}

func TestImport_Rejects(t *testing.T) {
	ctx := context.Background()
	s, st := setupTestStore(t)

	_, err := Import(ctx, s, st, testConfig(), ImportInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), err)

	_, err = Import(ctx, s, st, testConfig(), ImportInput{Path: filepath.Join(t.TempDir(), "in.jsonl"), Mode: "merge"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), err)

	_, err = Import(ctx, s, st, testConfig(), ImportInput{Path: filepath.Join(t.TempDir(), "missing.jsonl")})
	require.True(t, errors.Is(err, errors.ErrFileNotFound), err)
}

func TestExport_DateRange(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory()
	st := stats.New(s)
	r := NewRecorder(s, st, 10)
	day := noon(2026, 3, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(ctx, testRecord(fmt.Sprintf("s-%d", i), day.AddDate(0, 0, i))))
	}

	path := filepath.Join(t.TempDir(), "range.jsonl")
	out, err := Export(ctx, s, st, testConfig(), ExportInput{
		Path:            path,
		From:            stats.DateKey(day.AddDate(0, 0, 1)),
		To:              stats.DateKey(day.AddDate(0, 0, 1)),
		IncludeSessions: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Days)
	require.Equal(t, 1, out.Sessions)
	require.Equal(t, path, out.Path)
}
