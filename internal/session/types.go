package session

import (
	"context"
	"time"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/display"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// Tracked platforms.
const (
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

// Platforms lists every platform a tab can be tracked on.
var Platforms = []string{PlatformInstagram, PlatformYouTube}

// ValidPlatform reports whether p is a tracked platform.
func ValidPlatform(p string) bool {
	return p == PlatformInstagram || p == PlatformYouTube
}

// State is a session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateTracking   State = "tracking"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

// Observation is one item seen by a page tracker. DwellMs is cumulative for
// the session.
type Observation struct {
	Key     string          `json:"key"`
	Href    string          `json:"href,omitempty"`
	Caption string          `json:"captionText"`
	DwellMs int64           `json:"dwellMs"`
	Image   *analysis.Image `json:"imageRef,omitempty"`
}

// Snapshot is a tracker's full current view of one platform.
type Snapshot struct {
	Platform string        `json:"platform"`
	Items    []Observation `json:"items"`
	Finalize bool          `json:"finalize,omitempty"`
	PageURL  string        `json:"pageUrl,omitempty"`
	TabID    string        `json:"tabId,omitempty"`
}

// RawUpdate is a decoded inbound RAW_UPDATE message.
type RawUpdate struct {
	SessionID string     `json:"sessionId"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Buffer holds the latest snapshot of one platform.
type Buffer struct {
	Platform    string        `json:"platform"`
	Items       []Observation `json:"items"`
	FirstSeenAt time.Time     `json:"firstSeenAt,omitempty"`
	PageURL     string        `json:"pageUrl,omitempty"`
	Finalized   bool          `json:"finalized"`
	Snapshots   int           `json:"snapshots"`
}

func (b *Buffer) clone() *Buffer {
	cp := *b
	cp.Items = append([]Observation(nil), b.Items...)
	return &cp
}

// Status is the processing-status record polled by consumers.
type Status struct {
	IsProcessing bool      `json:"isProcessing"`
	Step         string    `json:"step"`
	Progress     int       `json:"progress"`
	SessionID    string    `json:"sessionId,omitempty"`
	State        State     `json:"state"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Processing steps reported in Status.
const (
	StepIdle       = "idle"
	StepTracking   = "tracking"
	StepSettling   = "settling"
	StepWaiting    = "waiting for tabs"
	StepAnalyzing  = "analyzing"
	StepSaving     = "saving"
	StepDone       = "done"
	StepFailed     = "failed"
	StepForceClear = "force cleared"
)

// Record is a finalized session.
type Record struct {
	SessionID     string    `json:"sessionId"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
	DurationMs    int64     `json:"durationMs"`
	PlatformsUsed []string  `json:"platformsUsed"`
	ItemsObserved int       `json:"itemsObserved"`
	ItemsAnalyzed int       `json:"itemsAnalyzed"`
	TotalDwellMs  int64     `json:"totalDwellMs"`

	Topics     map[taxonomy.Topic]float64      `json:"topicDistribution"`
	Emotions   map[taxonomy.Emotion]float64    `json:"emotionDistribution"`
	Engagement map[taxonomy.Engagement]float64 `json:"engagementDistribution"`
	PerItem    []analysis.Label                `json:"perItemClassification"`

	AnalysisMethod string                   `json:"analysisMethod"`
	Display        display.Breakdown        `json:"display"`
	RawItems       map[string][]Observation `json:"rawItems"`
}

// Result returns the record's distributions as an analysis result.
func (r *Record) Result() analysis.Result {
	return analysis.Result{
		Topics:        r.Topics,
		Emotions:      r.Emotions,
		Engagement:    r.Engagement,
		TotalDwellMs:  r.TotalDwellMs,
		ItemsAnalyzed: r.ItemsAnalyzed,
		PerItem:       r.PerItem,
		Method:        r.AnalysisMethod,
	}
}

// Recorder persists a finalized session.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// StartInput names the tab that began tracking.
type StartInput struct {
	Platform string `json:"platform,omitempty"`
	TabID    string `json:"tabId,omitempty"`
	PageURL  string `json:"pageUrl,omitempty"`
}

// StartResult is returned by Start.
type StartResult struct {
	SessionID     string    `json:"sessionId"`
	StartedAt     time.Time `json:"startedAt"`
	AlreadyActive bool      `json:"alreadyActive"`
	Platforms     []string  `json:"platforms"`
}

// StopResult is returned by Stop. Finalization continues in the background.
type StopResult struct {
	Stopped   bool   `json:"stopped"`
	SessionID string `json:"sessionId,omitempty"`
	Status    Status `json:"status"`
}

// RawResult acknowledges a raw update.
type RawResult struct {
	Accepted bool           `json:"accepted"`
	Reason   string         `json:"reason,omitempty"`
	Items    map[string]int `json:"items,omitempty"`
}

// IncrementalResult reports an incremental analysis batch.
type IncrementalResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Analyzed int    `json:"analyzed"`
	Skipped  int    `json:"skipped"`
	Method   string `json:"analysisMethod,omitempty"`
}

// TabFocusResult reports whether a focused tab joined the session.
type TabFocusResult struct {
	Added     bool   `json:"added"`
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// View describes the open session for status surfaces.
type View struct {
	SessionID string             `json:"sessionId"`
	State     State              `json:"state"`
	StartedAt time.Time          `json:"startedAt"`
	Tabs      []string           `json:"tabs"`
	Buffers   map[string]*Buffer `json:"buffers"`
	Analyzed  int                `json:"analyzed"`
}
