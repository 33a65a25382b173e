package ops

import (
	"context"
	"time"

	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Limit  int // default DefaultHistoryLimit, max MaxHistoryLimit
	Offset int
}

// SessionSummary is the one-line view of a recorded session.
type SessionSummary struct {
	SessionID      string         `json:"sessionId"`
	StartedAt      time.Time      `json:"startedAt"`
	DurationMs     int64          `json:"durationMs"`
	PlatformsUsed  []string       `json:"platformsUsed"`
	ItemsObserved  int            `json:"itemsObserved"`
	AnalysisMethod string         `json:"analysisMethod"`
	TopTopic       taxonomy.Topic `json:"topTopic"`
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Sessions   []SessionSummary `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// History lists recorded sessions, newest first. Ids whose record has gone
// missing are skipped.
func History(ctx context.Context, s kv.Store, input HistoryInput) (*HistoryOutput, error) {
	if input.Offset < 0 {
		return nil, errors.NewInvalidRequest("offset must not be negative")
	}
	limit := clampLimit(input.Limit, DefaultHistoryLimit, MaxHistoryLimit)

	ids, err := readHistory(ctx, s)
	if err != nil {
		return nil, err
	}

	out := &HistoryOutput{
		Sessions: []SessionSummary{},
		Pagination: Pagination{
			Limit:  limit,
			Offset: input.Offset,
			Total:  len(ids),
		},
	}
	if input.Offset >= len(ids) {
		return out, nil
	}

	end := input.Offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	out.Pagination.HasMore = end < len(ids)

	for _, id := range ids[input.Offset:end] {
		rec, err := GetSession(ctx, s, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out.Sessions = append(out.Sessions, Summarize(rec))
	}
	return out, nil
}

// Summarize reduces rec to its history line.
func Summarize(rec *session.Record) SessionSummary {
	return SessionSummary{
		SessionID:      rec.SessionID,
		StartedAt:      rec.StartedAt,
		DurationMs:     rec.DurationMs,
		PlatformsUsed:  rec.PlatformsUsed,
		ItemsObserved:  rec.ItemsObserved,
		AnalysisMethod: rec.AnalysisMethod,
		TopTopic:       TopTopic(rec.Topics),
	}
}

// TopTopic returns the highest-weighted topic, breaking ties by taxonomy
// order. Empty distributions yield "".
func TopTopic(topics map[taxonomy.Topic]float64) taxonomy.Topic {
	var best taxonomy.Topic
	bestW := 0.0
	for _, t := range taxonomy.Topics {
		if w := topics[t]; w > bestW {
			best, bestW = t, w
		}
	}
	return best
}
