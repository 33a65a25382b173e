package ops

import (
	"context"
	"sync"

	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/stats"
)

// Recorder persists finalized sessions. It implements session.Recorder.
//
// A record is folded into the daily bucket of its start date at most once:
// the bucket carries the ids it has folded, so the aggregator may retry a
// failed Record call.
type Recorder struct {
	kv           kv.Store
	stats        *stats.Store
	historyLimit int
	mu           sync.Mutex
}

// NewRecorder returns a Recorder writing to s. historyLimit caps the
// session history list; 0 means DefaultHistoryLimit.
//
// Callers should pass the configured history_limit: records beyond the cap
// are deleted.
func NewRecorder(s kv.Store, st *stats.Store, historyLimit int) *Recorder {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Recorder{kv: s, stats: st, historyLimit: historyLimit}
}

// Record folds rec into its day and stores it as the latest session.
func (r *Recorder) Record(ctx context.Context, rec *session.Record) error {
	if rec == nil {
		return errors.NewInvalidRequest("record is required")
	}
	id, err := ValidateSessionID(rec.SessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, _, err := r.stats.FoldSession(ctx, id, stats.DateKey(rec.StartedAt), rec.DurationMs, rec.Result()); err != nil {
		return err
	}

	if err := kv.PutJSON(ctx, r.kv, sessionKey(id), rec); err != nil {
		return err
	}
	if err := r.updateLast(ctx, rec); err != nil {
		return err
	}
	return r.prependHistory(ctx, id)
}

// updateLast keeps the session with the latest start as session:last.
func (r *Recorder) updateLast(ctx context.Context, rec *session.Record) error {
	last, err := LastSession(ctx, r.kv)
	if err != nil {
		return err
	}
	if last != nil && last.SessionID != rec.SessionID && rec.StartedAt.Before(last.StartedAt) {
		return nil
	}
	return kv.PutJSON(ctx, r.kv, LastSessionKey, rec)
}

func (r *Recorder) prependHistory(ctx context.Context, id string) error {
	ids, err := readHistory(ctx, r.kv)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, id)
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}

	// records that fall off the list are removed; their days keep the totals
	for len(out) > r.historyLimit {
		evicted := out[len(out)-1]
		out = out[:len(out)-1]
		if err := r.kv.Delete(ctx, sessionKey(evicted)); err != nil {
			return err
		}
	}
	return kv.PutJSON(ctx, r.kv, HistoryKey, out)
}

// historyLimit returns the configured history cap.
func historyLimit(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	return cfg.HistoryLimit
}
