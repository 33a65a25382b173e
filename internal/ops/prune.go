package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/stats"
)

// PruneInput contains parameters for the Prune operation.
type PruneInput struct {
	OlderThanDays int       // required, buckets dated before (today - N days) are removed
	Now           time.Time // zero means time.Now()
}

// PruneOutput contains the result of the Prune operation.
type PruneOutput struct {
	Pruned   int    `json:"pruned"`
	Sessions int    `json:"sessions"`
	Cutoff   string `json:"cutoff"`
	Message  string `json:"message"`
}

// Prune removes daily buckets older than the retention window, along with
// the history entries of sessions that started before the cutoff.
func Prune(ctx context.Context, s kv.Store, st *stats.Store, input PruneInput) (*PruneOutput, error) {
	if input.OlderThanDays <= 0 {
		return nil, errors.NewInvalidRequest("older_than_days must be positive")
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := stats.DateKey(now.AddDate(0, 0, -input.OlderThanDays))

	dates, err := st.Dates(ctx)
	if err != nil {
		return nil, err
	}
	out := &PruneOutput{Cutoff: cutoff}
	for _, d := range dates {
		if d >= cutoff {
			break
		}
		if err := st.Delete(ctx, d); err != nil {
			return nil, err
		}
		out.Pruned++
	}

	sessions, err := pruneSessions(ctx, s, cutoff)
	if err != nil {
		return nil, err
	}
	out.Sessions = sessions
	out.Message = formatPruneMessage(out.Pruned, out.Sessions, input.OlderThanDays)
	return out, nil
}

func pruneSessions(ctx context.Context, s kv.Store, cutoff string) (int, error) {
	ids, err := readHistory(ctx, s)
	if err != nil {
		return 0, err
	}
	kept := make([]string, 0, len(ids))
	removed := 0
	for _, id := range ids {
		rec, err := GetSession(ctx, s, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if stats.DateKey(rec.StartedAt) >= cutoff {
			kept = append(kept, id)
			continue
		}
		if err := s.Delete(ctx, sessionKey(id)); err != nil {
			return 0, err
		}
		removed++
	}
	if removed == 0 && len(kept) == len(ids) {
		return 0, nil
	}
	return removed, kv.PutJSON(ctx, s, HistoryKey, kept)
}

// formatPruneMessage creates a human-readable message for the prune result.
func formatPruneMessage(days, sessions, olderThanDays int) string {
	if days == 0 && sessions == 0 {
		return fmt.Sprintf("Nothing older than %d days to prune", olderThanDays)
	}
	return fmt.Sprintf("Removed %s and %s older than %d days",
		plural(days, "daily bucket", "daily buckets"),
		plural(sessions, "session", "sessions"),
		olderThanDays)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
