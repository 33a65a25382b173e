package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/classifier"
	"github.com/hpungsan/feedlens/internal/display"
	"github.com/hpungsan/feedlens/internal/errors"
)

// finalize runs in its own goroutine after stop:
//
//  1. wait the settle delay
//  2. wait until every buffer reported finalize, or the grace window ends
//  3. wait for in-flight incremental batches
//  4. seal the buffers and analyze whatever no batch covered
//  5. build the record and hand it to the recorder, retrying once
func (a *Aggregator) finalize(id string, stoppedAt time.Time, allFinal <-chan struct{}, inflight *sync.WaitGroup) {
	defer a.workers.Done()
	began := time.Now()

	ctx := a.ctx
	if a.opts.ForceClear > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(a.ctx, a.opts.ForceClear)
		defer cancel()
	}

	rec, err := a.runFinalize(ctx, id, stoppedAt, allFinal, inflight)
	a.post(doneCmd{sessionID: id, rec: rec, err: err, elapsed: time.Since(began)})
}

func (a *Aggregator) runFinalize(ctx context.Context, id string, stoppedAt time.Time, allFinal <-chan struct{}, inflight *sync.WaitGroup) (*Record, error) {
	if err := sleep(ctx, a.opts.SettleDelay); err != nil {
		return nil, errors.NewCancelled("finalize settle")
	}

	a.progress(id, StepWaiting, 25)
	if wait := time.Until(stoppedAt.Add(a.opts.FinalizeGrace)); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-allFinal:
		case <-t.C:
			log.Printf("session: %s: grace window ended before every tab finalized", id)
		case <-ctx.Done():
			t.Stop()
			return nil, errors.NewCancelled("finalize grace")
		}
		t.Stop()
	}

	drained := make(chan struct{})
	go func() {
		inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return nil, errors.NewCancelled("finalize incremental wait")
	}

	reply := make(chan *sealed, 1)
	if !a.post(sealCmd{sessionID: id, reply: reply}) {
		return nil, errClosed
	}
	sl := <-reply
	if sl == nil {
		return nil, errors.NewInternal(fmt.Errorf("session %s is no longer finalizing", id))
	}

	a.progress(id, StepAnalyzing, 50)
	if len(sl.remaining) > 0 {
		r := a.analyzer.Analyze(ctx, sl.remaining)
		sl.acc.Add(analysis.Keys(sl.remaining), withPerItem(r, sl.remaining))
	}
	rec := buildRecord(id, sl)

	a.progress(id, StepSaving, 75)
	err := a.recorder.Record(ctx, rec)
	if err != nil {
		log.Printf("session: %s: record failed, retrying: %v", id, err)
		err = a.recorder.Record(ctx, rec)
	}
	return rec, err
}

func (a *Aggregator) progress(id, step string, pct int) {
	a.post(progressCmd{sessionID: id, step: step, progress: pct})
}

func buildRecord(id string, sl *sealed) *Record {
	result, ok := sl.acc.Result()
	if !ok {
		result = analysis.Uniform(analysis.MethodHeuristic)
	}

	durationMs := sl.stoppedAt.Sub(sl.startedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	rec := &Record{
		SessionID:      id,
		StartedAt:      sl.startedAt,
		EndedAt:        sl.stoppedAt,
		DurationMs:     durationMs,
		PlatformsUsed:  make([]string, 0, len(sl.buffers)),
		ItemsAnalyzed:  result.ItemsAnalyzed,
		TotalDwellMs:   result.TotalDwellMs,
		Topics:         result.Topics,
		Emotions:       result.Emotions,
		Engagement:     result.Engagement,
		PerItem:        result.PerItem,
		AnalysisMethod: result.Method,
		Display:        display.ToDisplay(result, durationMs),
		RawItems:       make(map[string][]Observation, len(sl.buffers)),
	}
	if rec.PerItem == nil {
		rec.PerItem = []analysis.Label{}
	}
	for p, b := range sl.buffers {
		rec.PlatformsUsed = append(rec.PlatformsUsed, p)
		rec.RawItems[p] = b.Items
		rec.ItemsObserved += len(b.Items)
	}
	sort.Strings(rec.PlatformsUsed)
	return rec
}

// withPerItem fills in per-item labels for results that carry none, such as
// the heuristic classifier's.
func withPerItem(r analysis.Result, items []analysis.Item) analysis.Result {
	if len(r.PerItem) > 0 || r.ItemsAnalyzed == 0 {
		return r
	}
	n := r.ItemsAnalyzed
	if n > len(items) {
		n = len(items)
	}
	r.PerItem = classifier.Labels(items[:n])
	return r
}

func (o Observation) item(platform string) analysis.Item {
	return analysis.Item{
		Key:      o.Key,
		Platform: platform,
		Caption:  o.Caption,
		DwellMs:  o.DwellMs,
		Image:    o.Image,
	}
}

// AnalysisItems converts the snapshot's observations to classifier input.
func (s Snapshot) AnalysisItems() []analysis.Item {
	platform := normalizePlatform(s.Platform)
	out := make([]analysis.Item, len(s.Items))
	for i, o := range s.Items {
		out[i] = o.item(platform)
	}
	return out
}

// Items flattens every snapshot of the update into classifier input.
func (u *RawUpdate) Items() []analysis.Item {
	var out []analysis.Item
	for _, s := range u.Snapshots {
		out = append(out, s.AnalysisItems()...)
	}
	return out
}

func normalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
