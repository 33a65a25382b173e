package ops

import (
	"context"
	"time"

	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/stats"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// DashboardInput contains parameters for the Dashboard operation.
type DashboardInput struct {
	Days int       // trailing window in days, default DefaultDashboardDays
	Now  time.Time // zero means time.Now()
}

// DashboardOutput is the GET_DASHBOARD response.
type DashboardOutput struct {
	Today          string                  `json:"today"`
	Daily          map[string]stats.Bucket `json:"daily"`
	Window         []stats.Bucket          `json:"window"`
	Totals         stats.Bucket            `json:"totals"`
	LastSession    *session.Record         `json:"lastSession"`
	SessionHistory []SessionSummary        `json:"sessionHistory"`
}

// Dashboard returns every daily bucket, the trailing window (oldest first,
// with empty days filled in), its totals, the last session and the recent
// history.
func Dashboard(ctx context.Context, s kv.Store, st *stats.Store, input DashboardInput) (*DashboardOutput, error) {
	days := clampLimit(input.Days, DefaultDashboardDays, MaxDashboardDays)
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}

	daily, err := st.All(ctx)
	if err != nil {
		return nil, err
	}

	out := &DashboardOutput{
		Today:  stats.DateKey(now),
		Daily:  daily,
		Window: make([]stats.Bucket, 0, days),
		Totals: stats.NewBucket(""),
	}

	for i := days - 1; i >= 0; i-- {
		date := stats.DateKey(now.AddDate(0, 0, -i))
		b, ok := daily[date]
		if !ok {
			b = stats.NewBucket(date)
		}
		out.Window = append(out.Window, b)
		addBucket(&out.Totals, b)
	}

	out.LastSession, err = LastSession(ctx, s)
	if err != nil {
		return nil, err
	}
	hist, err := History(ctx, s, HistoryInput{Limit: DefaultHistoryLimit})
	if err != nil {
		return nil, err
	}
	out.SessionHistory = hist.Sessions
	return out, nil
}

// Day returns the bucket for date (an empty bucket when nothing was
// recorded that day).
func Day(ctx context.Context, st *stats.Store, date string) (*stats.Bucket, error) {
	if date == "" {
		return nil, errors.NewInvalidRequest("date is required")
	}
	b, err := st.Read(ctx, date)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func addBucket(dst *stats.Bucket, b stats.Bucket) {
	dst.TotalMs += b.TotalMs
	dst.SessionCount += b.SessionCount
	for k, v := range b.TopicMs {
		dst.TopicMs[k] += v
	}
	for k, v := range b.EmotionMs {
		dst.EmotionMs[k] += v
	}
	for k, v := range b.EngagementMs {
		dst.EngagementMs[k] += v
	}
	for t, row := range b.PerTopicEmotionMs {
		if dst.PerTopicEmotionMs[t] == nil {
			dst.PerTopicEmotionMs[t] = make(map[taxonomy.DisplayEmotion]int64)
		}
		for e, v := range row {
			dst.PerTopicEmotionMs[t][e] += v
		}
	}
}
