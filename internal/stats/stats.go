// Package stats folds finalized sessions into per-day buckets persisted in a
// key-value store.
package stats

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/display"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// KeyPrefix namespaces daily buckets in the store.
const KeyPrefix = "daily:"

// DateLayout is the local ISO date used as the bucket key.
const DateLayout = "2006-01-02"

// Bucket accumulates every session of one local calendar day.
type Bucket struct {
	Date              string                                                      `json:"date"`
	TotalMs           int64                                                       `json:"totalMs"`
	SessionCount      int                                                         `json:"sessionCount"`
	TopicMs           map[taxonomy.DisplayTopic]int64                             `json:"topicMs"`
	EmotionMs         map[taxonomy.DisplayEmotion]int64                           `json:"emotionMs"`
	PerTopicEmotionMs map[taxonomy.DisplayTopic]map[taxonomy.DisplayEmotion]int64 `json:"perTopicEmotionMs"`
	EngagementMs      map[taxonomy.Engagement]int64                               `json:"engagementMs"`

	// SessionIDs lists the sessions folded into the bucket. It is written
	// together with the totals, so a session is never counted twice.
	SessionIDs []string `json:"sessionIds,omitempty"`
}

// Has reports whether sessionID has been folded into b.
func (b *Bucket) Has(sessionID string) bool {
	for _, id := range b.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// NewBucket returns an empty bucket with every category present.
func NewBucket(date string) Bucket {
	b := Bucket{
		Date:              date,
		TopicMs:           make(map[taxonomy.DisplayTopic]int64, len(taxonomy.DisplayTopics)),
		EmotionMs:         make(map[taxonomy.DisplayEmotion]int64, len(taxonomy.DisplayEmotions)),
		PerTopicEmotionMs: make(map[taxonomy.DisplayTopic]map[taxonomy.DisplayEmotion]int64, len(taxonomy.DisplayTopics)),
		EngagementMs:      make(map[taxonomy.Engagement]int64, len(taxonomy.Engagements)),
	}
	for _, t := range taxonomy.DisplayTopics {
		b.TopicMs[t] = 0
		row := make(map[taxonomy.DisplayEmotion]int64, len(taxonomy.DisplayEmotions))
		for _, e := range taxonomy.DisplayEmotions {
			row[e] = 0
		}
		b.PerTopicEmotionMs[t] = row
	}
	for _, e := range taxonomy.DisplayEmotions {
		b.EmotionMs[e] = 0
	}
	for _, e := range taxonomy.Engagements {
		b.EngagementMs[e] = 0
	}
	return b
}

// fill adds any category a decoded bucket is missing.
func (b *Bucket) fill() {
	empty := NewBucket(b.Date)
	if b.TopicMs == nil {
		b.TopicMs = empty.TopicMs
	}
	if b.EmotionMs == nil {
		b.EmotionMs = empty.EmotionMs
	}
	if b.PerTopicEmotionMs == nil {
		b.PerTopicEmotionMs = empty.PerTopicEmotionMs
	}
	if b.EngagementMs == nil {
		b.EngagementMs = empty.EngagementMs
	}
	for _, t := range taxonomy.DisplayTopics {
		if b.PerTopicEmotionMs[t] == nil {
			b.PerTopicEmotionMs[t] = empty.PerTopicEmotionMs[t]
		}
	}
}

// add folds one session contribution into b.
func (b *Bucket) add(durationMs int64, brk display.Breakdown, engagement map[taxonomy.Engagement]int64) {
	b.TotalMs += durationMs
	b.SessionCount++
	for k, v := range brk.TopicMs {
		b.TopicMs[k] += v
	}
	for k, v := range brk.EmotionMs {
		b.EmotionMs[k] += v
	}
	for t, row := range brk.PerTopicEmotionMs {
		if b.PerTopicEmotionMs[t] == nil {
			b.PerTopicEmotionMs[t] = make(map[taxonomy.DisplayEmotion]int64)
		}
		for e, v := range row {
			b.PerTopicEmotionMs[t][e] += v
		}
	}
	for k, v := range engagement {
		b.EngagementMs[k] += v
	}
}

// DateKey returns the local calendar date of t.
func DateKey(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// ValidDate reports whether s is a DateLayout date.
func ValidDate(s string) bool {
	_, err := time.ParseInLocation(DateLayout, s, time.Local)
	return err == nil
}

// Store reads and folds daily buckets. Folds are serialized so concurrent
// sessions never lose an update.
type Store struct {
	kv kv.Store
	mu sync.Mutex
}

// New returns a Store over s.
func New(s kv.Store) *Store {
	return &Store{kv: s}
}

// Fold adds a session of durationMs with distributions r into the bucket
// for date and returns the updated bucket.
func (s *Store) Fold(ctx context.Context, date string, durationMs int64, r analysis.Result) (Bucket, error) {
	b, _, err := s.fold(ctx, "", date, durationMs, r)
	return b, err
}

// FoldSession is Fold for an identified session. It is a no-op returning
// false when sessionID is already part of the bucket, so callers may retry.
func (s *Store) FoldSession(ctx context.Context, sessionID, date string, durationMs int64, r analysis.Result) (Bucket, bool, error) {
	if sessionID == "" {
		return Bucket{}, false, errors.NewInvalidRequest("session id is required")
	}
	return s.fold(ctx, sessionID, date, durationMs, r)
}

func (s *Store) fold(ctx context.Context, sessionID, date string, durationMs int64, r analysis.Result) (Bucket, bool, error) {
	if !ValidDate(date) {
		return Bucket{}, false, errors.NewInvalidRequest("invalid date: " + date)
	}
	if durationMs < 0 {
		durationMs = 0
	}

	brk := display.ToDisplay(r, durationMs)
	engagement := display.SplitMs(analysis.Normalize(r.Engagement, taxonomy.Engagements), taxonomy.Engagements, durationMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.read(ctx, date)
	if err != nil {
		return Bucket{}, false, err
	}
	if sessionID != "" {
		if b.Has(sessionID) {
			return b, false, nil
		}
		b.SessionIDs = append(b.SessionIDs, sessionID)
	}
	b.add(durationMs, brk, engagement)
	if err := kv.PutJSON(ctx, s.kv, KeyPrefix+date, b); err != nil {
		return Bucket{}, false, err
	}
	return b, true, nil
}

// Read returns the bucket for date, or an empty bucket if none exists.
func (s *Store) Read(ctx context.Context, date string) (Bucket, error) {
	if !ValidDate(date) {
		return Bucket{}, errors.NewInvalidRequest("invalid date: " + date)
	}
	return s.read(ctx, date)
}

func (s *Store) read(ctx context.Context, date string) (Bucket, error) {
	b := NewBucket(date)
	found, err := kv.GetJSON(ctx, s.kv, KeyPrefix+date, &b)
	if err != nil {
		return Bucket{}, err
	}
	if found {
		b.Date = date
		b.fill()
	}
	return b, nil
}

// Dates lists the dates that have a bucket, ascending.
func (s *Store) Dates(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(keys))
	for _, k := range keys {
		d := strings.TrimPrefix(k, KeyPrefix)
		if ValidDate(d) {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// All returns every bucket keyed by date.
func (s *Store) All(ctx context.Context) (map[string]Bucket, error) {
	dates, err := s.Dates(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Bucket, len(dates))
	for _, d := range dates {
		b, err := s.read(ctx, d)
		if err != nil {
			return nil, err
		}
		out[d] = b
	}
	return out, nil
}

// Replace overwrites the bucket for b.Date.
func (s *Store) Replace(ctx context.Context, b Bucket) error {
	if !ValidDate(b.Date) {
		return errors.NewInvalidRequest("invalid date: " + b.Date)
	}
	b.fill()
	s.mu.Lock()
	defer s.mu.Unlock()
	return kv.PutJSON(ctx, s.kv, KeyPrefix+b.Date, b)
}

// Delete removes the bucket for date.
func (s *Store) Delete(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, KeyPrefix+date)
}
