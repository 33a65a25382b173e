package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/classifier"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/metrics"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

type fakeRecorder struct {
	mu      sync.Mutex
	calls   int
	failN   int
	block   chan struct{}
	records chan *Record
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: make(chan *Record, 8)}
}

func (f *fakeRecorder) Record(_ context.Context, rec *Record) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failN
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return fmt.Errorf("disk full")
	}
	f.records <- rec
	return nil
}

func (f *fakeRecorder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingAnalyzer wraps the heuristic engine and records every batch.
type countingAnalyzer struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *countingAnalyzer) Analyze(ctx context.Context, items []analysis.Item) analysis.Result {
	c.mu.Lock()
	c.batches = append(c.batches, analysis.Keys(items))
	c.mu.Unlock()
	return classifier.Engine{}.Analyze(ctx, items)
}

func (c *countingAnalyzer) Batches() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.batches...)
}

func fastOptions() Options {
	return Options{
		FinalizeGrace: 300 * time.Millisecond,
		SettleDelay:   10 * time.Millisecond,
		ForceClear:    5 * time.Second,
	}
}

type harness struct {
	agg      *Aggregator
	rec      *fakeRecorder
	analyzer *countingAnalyzer
	mailbox  *Mailbox
	registry *prometheus.Registry
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &harness{
		rec:      newFakeRecorder(),
		analyzer: &countingAnalyzer{},
		mailbox:  NewMailbox(0),
		registry: reg,
	}
	h.agg = New(h.analyzer, h.rec, h.mailbox, metrics.New(reg), opts)
	t.Cleanup(h.agg.Close)
	return h
}

func (h *harness) waitRecord(t *testing.T) *Record {
	t.Helper()
	select {
	case rec := <-h.rec.records:
		return rec
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for record")
		return nil
	}
}

func (h *harness) waitStatus(t *testing.T, cond func(Status) bool) Status {
	t.Helper()
	var last Status
	require.Eventually(t, func() bool {
		s, err := h.agg.Status(context.Background())
		if err != nil {
			return false
		}
		last = s
		return cond(s)
	}, 3*time.Second, 5*time.Millisecond)
	return last
}

func snapshot(platform string, finalize bool, obs ...Observation) Snapshot {
	return Snapshot{Platform: platform, Finalize: finalize, Items: obs}
}

func update(id string, snaps ...Snapshot) *RawUpdate {
	return &RawUpdate{SessionID: id, Snapshots: snaps}
}

func TestStart_Idempotent(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	first, err := h.agg.Start(ctx, StartInput{Platform: "instagram", TabID: "t1"})
	require.NoError(t, err)
	require.False(t, first.AlreadyActive)
	require.NotEmpty(t, first.SessionID)
	require.Equal(t, []string{PlatformInstagram}, first.Platforms)

	second, err := h.agg.Start(ctx, StartInput{Platform: "instagram", TabID: "t1"})
	require.NoError(t, err)
	require.True(t, second.AlreadyActive)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, first.StartedAt, second.StartedAt)

	// only one start signal for the same tab
	require.Len(t, h.mailbox.Drain("t1"), 1)

	s, err := h.agg.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateTracking, s.State)
	require.False(t, s.IsProcessing)
}

func TestStart_InvalidPlatform(t *testing.T) {
	h := newHarness(t, fastOptions())
	_, err := h.agg.Start(context.Background(), StartInput{Platform: "tiktok"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestStart_BusyWhileFinalizing(t *testing.T) {
	opts := fastOptions()
	opts.FinalizeGrace = 5 * time.Second
	h := newHarness(t, opts)
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", false, Observation{Key: "a", DwellMs: 10})))
	require.NoError(t, err)

	stop, err := h.agg.Stop(ctx)
	require.NoError(t, err)
	require.True(t, stop.Stopped)
	require.True(t, stop.Status.IsProcessing)

	_, err = h.agg.Start(ctx, StartInput{})
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrBusy))

	again, err := h.agg.Stop(ctx)
	require.NoError(t, err)
	require.True(t, again.Stopped)
	require.Equal(t, started.SessionID, again.SessionID)
}

func TestStop_NoSession(t *testing.T) {
	h := newHarness(t, fastOptions())
	res, err := h.agg.Stop(context.Background())
	require.NoError(t, err)
	require.False(t, res.Stopped)
	require.Equal(t, StateIdle, res.Status.State)
}

func TestRawUpdate_UnknownSessionIgnored(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	res, err := h.agg.RawUpdate(ctx, update("nope", snapshot("instagram", false, Observation{Key: "a"})))
	require.NoError(t, err)
	require.False(t, res.Accepted)

	started, err := h.agg.Start(ctx, StartInput{})
	require.NoError(t, err)

	res, err = h.agg.RawUpdate(ctx, update("other", snapshot("instagram", false, Observation{Key: "a"})))
	require.NoError(t, err)
	require.False(t, res.Accepted)

	v, err := h.agg.View(ctx)
	require.NoError(t, err)
	require.Equal(t, started.SessionID, v.SessionID)
	require.Empty(t, v.Buffers)
}

func TestRawUpdate_IdempotentReplay(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	obs := []Observation{
		{Key: "1", Caption: "Amazing sunset yoga session, so relaxed", DwellMs: 20_000},
		{Key: "2", Caption: "Breaking news: election results today", DwellMs: 10_000},
	}
	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", false, obs...)))
		require.NoError(t, err)
		require.True(t, res.Accepted)
		require.Equal(t, 2, res.Items[PlatformInstagram])
	}
	v, err := h.agg.View(ctx)
	require.NoError(t, err)
	firstSeen := v.Buffers[PlatformInstagram].FirstSeenAt
	require.False(t, firstSeen.IsZero())

	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", true, obs...)))
	require.NoError(t, err)
	v, err = h.agg.View(ctx)
	require.NoError(t, err)
	require.Equal(t, firstSeen, v.Buffers[PlatformInstagram].FirstSeenAt)

	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)
	rec := h.waitRecord(t)

	want := classifier.Classify(Snapshot{Platform: "instagram", Items: obs}.AnalysisItems())
	require.Equal(t, 2, rec.ItemsObserved)
	require.Equal(t, 2, rec.ItemsAnalyzed)
	require.Equal(t, want.Topics, rec.Topics)
	require.Equal(t, want.Emotions, rec.Emotions)
	require.Equal(t, analysis.MethodHeuristic, rec.AnalysisMethod)
	require.Len(t, h.analyzer.Batches(), 1)
}

func TestFinalize_MultiPlatform(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram", TabID: "ig"})
	require.NoError(t, err)
	_, err = h.agg.TabFocus(ctx, "yt", "youtube")
	require.NoError(t, err)

	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", false,
		Observation{Key: "p1", Caption: "Morocco vs Nigeria tonight", DwellMs: 5_000},
		Observation{Key: "p2", Caption: "Learn how to paint flowers", DwellMs: 3_000},
		Observation{Key: "p3", Caption: "lol", DwellMs: 1_000},
	)))
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("youtube", false,
		Observation{Key: "v1", Caption: "Breaking news update", DwellMs: 8_000},
		Observation{Key: "v2", Caption: "Guided meditation for sleep", DwellMs: 2_000},
	)))
	require.NoError(t, err)

	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID,
		Snapshot{Platform: "instagram", Finalize: true, Items: []Observation{
			{Key: "p1", Caption: "Morocco vs Nigeria tonight", DwellMs: 5_000},
			{Key: "p2", Caption: "Learn how to paint flowers", DwellMs: 3_000},
			{Key: "p3", Caption: "lol", DwellMs: 1_000},
		}},
		Snapshot{Platform: "youtube", Finalize: true, Items: []Observation{
			{Key: "v1", Caption: "Breaking news update", DwellMs: 8_000},
			{Key: "v2", Caption: "Guided meditation for sleep", DwellMs: 2_000},
		}},
	))
	require.NoError(t, err)

	rec := h.waitRecord(t)
	require.Equal(t, started.SessionID, rec.SessionID)
	require.Equal(t, []string{PlatformInstagram, PlatformYouTube}, rec.PlatformsUsed)
	require.Equal(t, 5, rec.ItemsObserved)
	require.Len(t, rec.PerItem, 5)
	require.Len(t, rec.RawItems[PlatformInstagram], 3)
	require.Len(t, rec.RawItems[PlatformYouTube], 2)
	require.Equal(t, int64(19_000), rec.TotalDwellMs)
	require.InDelta(t, 1, analysis.Sum(rec.Topics), 1e-9)
	require.GreaterOrEqual(t, rec.DurationMs, int64(0))

	s := h.waitStatus(t, func(s Status) bool { return s.State == StateClosed })
	require.Equal(t, StepDone, s.Step)
	require.Equal(t, 100, s.Progress)
	require.False(t, s.IsProcessing)
	require.Empty(t, s.Error)
}

func TestFinalize_EarlyCloseWhenAllFinalized(t *testing.T) {
	opts := fastOptions()
	opts.FinalizeGrace = 10 * time.Second
	h := newHarness(t, opts)
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	begin := time.Now()
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", true, Observation{Key: "a", DwellMs: 100})))
	require.NoError(t, err)

	rec := h.waitRecord(t)
	require.Less(t, time.Since(begin), 2*time.Second)
	require.Equal(t, 1, rec.ItemsObserved)
}

func TestFinalize_GraceTimeout(t *testing.T) {
	opts := fastOptions()
	opts.FinalizeGrace = 150 * time.Millisecond
	h := newHarness(t, opts)
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", false, Observation{Key: "a", DwellMs: 100})))
	require.NoError(t, err)

	begin := time.Now()
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	rec := h.waitRecord(t)
	require.GreaterOrEqual(t, time.Since(begin), 150*time.Millisecond)
	require.Equal(t, 1, rec.ItemsObserved)
}

func TestFinalize_EmptySession(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	_, err := h.agg.Start(ctx, StartInput{})
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	rec := h.waitRecord(t)
	require.Zero(t, rec.ItemsObserved)
	require.Empty(t, rec.PlatformsUsed)
	require.NotNil(t, rec.PerItem)
	require.InDelta(t, 1.0/9, rec.Topics[taxonomy.Entertainment], 1e-9)
	require.Empty(t, h.analyzer.Batches())
}

func TestFinalize_RecordRetriedOnce(t *testing.T) {
	h := newHarness(t, fastOptions())
	h.rec.failN = 1
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "youtube"})
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("youtube", true, Observation{Key: "v", DwellMs: 1})))
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	h.waitRecord(t)
	s := h.waitStatus(t, func(s Status) bool { return s.State == StateClosed })
	require.Equal(t, StepDone, s.Step)
	require.Equal(t, 2, h.rec.Calls())
}

func TestFinalize_RecordFailureSurfacesError(t *testing.T) {
	h := newHarness(t, fastOptions())
	h.rec.failN = 2
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "youtube"})
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("youtube", true, Observation{Key: "v", DwellMs: 1})))
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	s := h.waitStatus(t, func(s Status) bool { return s.State == StateClosed })
	require.Equal(t, StepFailed, s.Step)
	require.Contains(t, s.Error, "disk full")
	require.False(t, s.IsProcessing)
	require.Equal(t, 2, h.rec.Calls())

	// a failed finalization does not block the next session
	next, err := h.agg.Start(ctx, StartInput{})
	require.NoError(t, err)
	require.NotEqual(t, started.SessionID, next.SessionID)
}

func TestFinalize_ForceClear(t *testing.T) {
	opts := fastOptions()
	opts.ForceClear = 100 * time.Millisecond
	h := newHarness(t, opts)
	block := make(chan struct{})
	h.rec.block = block
	var release sync.Once
	t.Cleanup(func() { release.Do(func() { close(block) }) })
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", true, Observation{Key: "a", DwellMs: 1})))
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	s := h.waitStatus(t, func(s Status) bool { return s.State == StateClosed })
	require.False(t, s.IsProcessing)
	require.NotEmpty(t, s.Error)

	// the old finalizer is still inside Record
	_, err = h.agg.Start(ctx, StartInput{})
	require.True(t, errors.Is(err, errors.ErrBusy), "got %v", err)

	release.Do(func() { close(block) })
	var next StartResult
	require.Eventually(t, func() bool {
		next, err = h.agg.Start(ctx, StartInput{})
		return err == nil
	}, 3*time.Second, 5*time.Millisecond)
	require.NotEqual(t, started.SessionID, next.SessionID)

	// the late result does not overwrite the new session's status
	st, err := h.agg.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, next.SessionID, st.SessionID)
	require.Equal(t, StateTracking, st.State)
}

func TestIncremental_NotReanalyzedAtFinalize(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)

	first := []Observation{
		{Key: "a", Caption: "Morocco vs Nigeria tonight", DwellMs: 4_000},
		{Key: "b", Caption: "Learn how to paint flowers", DwellMs: 2_000},
	}
	res, err := h.agg.Incremental(ctx, started.SessionID, Snapshot{Platform: "instagram", Items: first}.AnalysisItems())
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, 2, res.Analyzed)
	require.Equal(t, analysis.MethodHeuristic, res.Method)

	// repeated batch is skipped entirely
	res, err = h.agg.Incremental(ctx, started.SessionID, Snapshot{Platform: "instagram", Items: first}.AnalysisItems())
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Zero(t, res.Analyzed)
	require.Equal(t, 2, res.Skipped)

	all := append(append([]Observation(nil), first...), Observation{Key: "c", Caption: "Breaking news update", DwellMs: 6_000})
	_, err = h.agg.RawUpdate(ctx, update(started.SessionID, snapshot("instagram", true, all...)))
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	rec := h.waitRecord(t)
	require.Equal(t, [][]string{{"a", "b"}, {"c"}}, h.analyzer.Batches())
	require.Equal(t, 3, rec.ItemsObserved)
	require.Equal(t, 3, rec.ItemsAnalyzed)
	require.Len(t, rec.PerItem, 3)
	require.Equal(t, int64(12_000), rec.TotalDwellMs)

	whole := classifier.Classify(Snapshot{Platform: "instagram", Items: all}.AnalysisItems())
	for k, v := range whole.Topics {
		require.InDelta(t, v, rec.Topics[k], 1e-9, "topic %s", k)
	}
}

func TestIncremental_Rejected(t *testing.T) {
	opts := fastOptions()
	opts.FinalizeGrace = 5 * time.Second
	h := newHarness(t, opts)
	ctx := context.Background()
	items := []analysis.Item{{Key: "a", DwellMs: 1}}

	res, err := h.agg.Incremental(ctx, "missing", items)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, 1, res.Skipped)

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram"})
	require.NoError(t, err)
	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)

	res, err = h.agg.Incremental(ctx, started.SessionID, items)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Empty(t, h.analyzer.Batches())
}

func TestTabFocus(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	res, err := h.agg.TabFocus(ctx, "t2", "youtube")
	require.NoError(t, err)
	require.False(t, res.Added)

	started, err := h.agg.Start(ctx, StartInput{Platform: "instagram", TabID: "t1"})
	require.NoError(t, err)

	res, err = h.agg.TabFocus(ctx, "t2", "YouTube")
	require.NoError(t, err)
	require.True(t, res.Added)
	require.Equal(t, started.SessionID, res.SessionID)

	res, err = h.agg.TabFocus(ctx, "t2", "youtube")
	require.NoError(t, err)
	require.False(t, res.Added)

	res, err = h.agg.TabFocus(ctx, "t3", "example.com")
	require.NoError(t, err)
	require.False(t, res.Added)

	signals := h.mailbox.Drain("t2")
	require.Len(t, signals, 1)
	require.Equal(t, SignalStart, signals[0].Kind)
	require.Equal(t, started.SessionID, signals[0].SessionID)

	v, err := h.agg.View(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, v.Tabs)
	require.Contains(t, v.Buffers, PlatformYouTube)

	_, err = h.agg.Stop(ctx)
	require.NoError(t, err)
	for _, tab := range []string{"t1", "t2"} {
		got := h.mailbox.Drain(tab)
		require.NotEmpty(t, got)
		require.Equal(t, SignalStop, got[len(got)-1].Kind, "tab %s", tab)
	}
}

func TestMetrics_RawUpdates(t *testing.T) {
	h := newHarness(t, fastOptions())
	ctx := context.Background()

	_, err := h.agg.RawUpdate(ctx, update("none"))
	require.NoError(t, err)

	families, err := h.registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "feedlens_raw_updates_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == "ignored" {
					found = true
					require.Equal(t, float64(1), m.GetCounter().GetValue())
				}
			}
		}
	}
	require.True(t, found)
}

func TestClose_Idempotent(t *testing.T) {
	h := newHarness(t, fastOptions())
	h.agg.Close()
	h.agg.Close()

	_, err := h.agg.Status(context.Background())
	require.Error(t, err)
}
