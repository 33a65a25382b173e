// Package session owns the lifecycle of a browsing session: it buffers the
// snapshots page trackers send, analyzes batches as they arrive, and
// finalizes the session into a Record once tracking stops.
//
// All session state is owned by a single coordinator goroutine. Public
// methods send typed commands to it and wait for the reply.
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/metrics"
)

// Options tunes finalization timing.
type Options struct {
	// FinalizeGrace is how long after stop the aggregator waits for every
	// platform buffer to report finalize before closing anyway.
	FinalizeGrace time.Duration

	// SettleDelay is always waited after stop, for late snapshots.
	SettleDelay time.Duration

	// ForceClear is the ceiling on the whole finalization. When it passes the
	// processing status is cleared even if a step is still running.
	ForceClear time.Duration
}

// OptionsFromConfig reads finalization timing from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FinalizeGrace: cfg.FinalizeGrace(),
		SettleDelay:   cfg.SettleDelay(),
		ForceClear:    cfg.ForceClear(),
	}
}

var errClosed = errors.NewInternal(fmt.Errorf("session aggregator closed"))

// Aggregator runs the session state machine:
//
//	Idle -> Tracking -> Finalizing -> Closed
type Aggregator struct {
	analyzer analysis.Analyzer
	recorder Recorder
	signaler Signaler
	metrics  *metrics.Metrics
	opts     Options

	cmds     chan any
	quit     chan struct{}
	loopDone chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	once    sync.Once
}

// New starts an aggregator. Call Close to stop it.
func New(analyzer analysis.Analyzer, recorder Recorder, signaler Signaler, m *metrics.Metrics, opts Options) *Aggregator {
	if signaler == nil {
		signaler = NewMailbox(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		analyzer: analyzer,
		recorder: recorder,
		signaler: signaler,
		metrics:  m,
		opts:     opts,
		cmds:     make(chan any),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go a.loop()
	return a
}

// Close stops the coordinator, cancels running analysis and waits for
// background finalization to return.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		a.cancel()
		close(a.quit)
		<-a.loopDone
		a.workers.Wait()
	})
}

// Typed commands handled by the coordinator.
type (
	startCmd struct {
		in    StartInput
		reply chan startReply
	}
	startReply struct {
		res StartResult
		err error
	}
	stopCmd struct {
		reply chan StopResult
	}
	rawCmd struct {
		update *RawUpdate
		reply  chan RawResult
	}
	tabFocusCmd struct {
		tabID    string
		platform string
		reply    chan TabFocusResult
	}
	reserveCmd struct {
		sessionID string
		items     []analysis.Item
		reply     chan reservation
	}
	mergeCmd struct {
		sessionID string
		keys      []string
		result    analysis.Result
		inflight  *sync.WaitGroup
		done      chan struct{}
	}
	statusCmd struct {
		reply chan Status
	}
	viewCmd struct {
		reply chan *View
	}
	progressCmd struct {
		sessionID string
		step      string
		progress  int
	}
	sealCmd struct {
		sessionID string
		reply     chan *sealed
	}
	doneCmd struct {
		sessionID string
		rec       *Record
		err       error
		elapsed   time.Duration
	}
	forceClearCmd struct {
		sessionID string
	}
)

type reservation struct {
	batch    []analysis.Item
	skipped  int
	reason   string
	inflight *sync.WaitGroup
}

// sealed hands session data from the coordinator to the finalizer. After a
// seal nothing else touches acc or buffers.
type sealed struct {
	startedAt time.Time
	stoppedAt time.Time
	buffers   map[string]*Buffer
	acc       *analysis.Accumulator
	remaining []analysis.Item
}

// send delivers c to the coordinator.
func (a *Aggregator) send(ctx context.Context, c any) error {
	select {
	case a.cmds <- c:
		return nil
	case <-ctx.Done():
		return errors.NewCancelled("session command")
	case <-a.quit:
		return errClosed
	}
}

// post delivers c unless the aggregator is closed.
func (a *Aggregator) post(c any) bool {
	select {
	case a.cmds <- c:
		return true
	case <-a.quit:
		return false
	}
}

// Start begins a session, or returns the active one when already tracking.
// Starting while a session is finalizing, or while a force-cleared
// finalizer is still winding down, is a BUSY error.
func (a *Aggregator) Start(ctx context.Context, in StartInput) (StartResult, error) {
	reply := make(chan startReply, 1)
	if err := a.send(ctx, startCmd{in: in, reply: reply}); err != nil {
		return StartResult{}, err
	}
	r := <-reply
	return r.res, r.err
}

// Stop ends tracking and starts background finalization. It returns
// immediately; poll Status for progress.
func (a *Aggregator) Stop(ctx context.Context) (StopResult, error) {
	reply := make(chan StopResult, 1)
	if err := a.send(ctx, stopCmd{reply: reply}); err != nil {
		return StopResult{}, err
	}
	return <-reply, nil
}

// RawUpdate replaces platform buffers with the given snapshots. Updates for
// any session other than the open one are ignored.
func (a *Aggregator) RawUpdate(ctx context.Context, u *RawUpdate) (RawResult, error) {
	reply := make(chan RawResult, 1)
	if err := a.send(ctx, rawCmd{update: u, reply: reply}); err != nil {
		return RawResult{}, err
	}
	return <-reply, nil
}

// TabFocus adds a newly focused tab on a tracked platform to the open
// session and signals it to start.
func (a *Aggregator) TabFocus(ctx context.Context, tabID, platform string) (TabFocusResult, error) {
	reply := make(chan TabFocusResult, 1)
	if err := a.send(ctx, tabFocusCmd{tabID: tabID, platform: platform, reply: reply}); err != nil {
		return TabFocusResult{}, err
	}
	return <-reply, nil
}

// Incremental analyzes items not yet covered by an earlier batch and merges
// the result into the session. It blocks until the merge is applied.
func (a *Aggregator) Incremental(ctx context.Context, sessionID string, items []analysis.Item) (IncrementalResult, error) {
	reply := make(chan reservation, 1)
	if err := a.send(ctx, reserveCmd{sessionID: sessionID, items: items, reply: reply}); err != nil {
		return IncrementalResult{}, err
	}
	res := <-reply
	if res.reason != "" {
		return IncrementalResult{Reason: res.reason, Skipped: res.skipped}, nil
	}
	if len(res.batch) == 0 {
		return IncrementalResult{Accepted: true, Skipped: res.skipped}, nil
	}

	r := withPerItem(a.analyzer.Analyze(a.ctx, res.batch), res.batch)
	done := make(chan struct{})
	if !a.post(mergeCmd{
		sessionID: sessionID,
		keys:      analysis.Keys(res.batch),
		result:    r,
		inflight:  res.inflight,
		done:      done,
	}) {
		res.inflight.Done()
		return IncrementalResult{}, errClosed
	}
	<-done

	return IncrementalResult{
		Accepted: true,
		Analyzed: len(res.batch),
		Skipped:  res.skipped,
		Method:   r.Method,
	}, nil
}

// Status returns the current processing status.
func (a *Aggregator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := a.send(ctx, statusCmd{reply: reply}); err != nil {
		return Status{}, err
	}
	return <-reply, nil
}

// View describes the open session, or nil when there is none.
func (a *Aggregator) View(ctx context.Context) (*View, error) {
	reply := make(chan *View, 1)
	if err := a.send(ctx, viewCmd{reply: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// session is the coordinator-owned state of the open session.
type session struct {
	id        string
	state     State
	startedAt time.Time
	stoppedAt time.Time

	buffers map[string]*Buffer
	tabs    map[string]string

	acc      *analysis.Accumulator
	pending  map[string]bool
	inflight *sync.WaitGroup

	sealed      bool
	allFinal    chan struct{}
	allFinalSet bool
	forceTimer  *time.Timer
}

func (s *session) buffer(platform string) *Buffer {
	b, ok := s.buffers[platform]
	if !ok {
		b = &Buffer{Platform: platform, Items: []Observation{}}
		s.buffers[platform] = b
	}
	return b
}

func (s *session) platforms() []string {
	out := make([]string, 0, len(s.buffers))
	for p := range s.buffers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type coordinator struct {
	a      *Aggregator
	cur    *session
	status Status

	// draining is a force-cleared session whose finalizer has not yet
	// reported back. No new session starts until it does.
	draining string
}

func (a *Aggregator) loop() {
	defer close(a.loopDone)
	c := &coordinator{a: a}
	c.setStatus("", StateIdle, StepIdle, 0, false, "")
	for {
		select {
		case <-a.quit:
			return
		case cmd := <-a.cmds:
			c.handle(cmd)
		}
	}
}

func (c *coordinator) handle(cmd any) {
	switch cmd := cmd.(type) {
	case startCmd:
		res, err := c.start(cmd.in)
		cmd.reply <- startReply{res: res, err: err}
	case stopCmd:
		cmd.reply <- c.stop()
	case rawCmd:
		cmd.reply <- c.raw(cmd.update)
	case tabFocusCmd:
		cmd.reply <- c.tabFocus(cmd.tabID, cmd.platform)
	case reserveCmd:
		cmd.reply <- c.reserve(cmd.sessionID, cmd.items)
	case mergeCmd:
		c.merge(cmd)
	case statusCmd:
		cmd.reply <- c.status
	case viewCmd:
		cmd.reply <- c.view()
	case progressCmd:
		if s := c.cur; s != nil && s.id == cmd.sessionID && s.state == StateFinalizing {
			c.setStatus(s.id, s.state, cmd.step, cmd.progress, true, "")
		}
	case sealCmd:
		cmd.reply <- c.seal(cmd.sessionID)
	case doneCmd:
		c.done(cmd)
	case forceClearCmd:
		c.forceClear(cmd.sessionID)
	default:
		log.Printf("session: unknown command %T", cmd)
	}
}

func (c *coordinator) setStatus(id string, state State, step string, progress int, processing bool, errMsg string) {
	c.status = Status{
		IsProcessing: processing,
		Step:         step,
		Progress:     progress,
		SessionID:    id,
		State:        state,
		Error:        errMsg,
		UpdatedAt:    time.Now(),
	}
}

func (c *coordinator) start(in StartInput) (StartResult, error) {
	platform := normalizePlatform(in.Platform)
	if platform != "" && !ValidPlatform(platform) {
		return StartResult{}, errors.NewInvalidRequest("unknown platform: " + in.Platform)
	}

	if s := c.cur; s != nil {
		switch s.state {
		case StateTracking:
			c.addTab(s, in.TabID, platform, in.PageURL)
			return StartResult{SessionID: s.id, StartedAt: s.startedAt, AlreadyActive: true, Platforms: s.platforms()}, nil
		case StateFinalizing:
			return StartResult{}, errors.NewBusy(s.id, string(s.state))
		}
	}
	if c.draining != "" {
		return StartResult{}, errors.NewBusy(c.draining, string(StateFinalizing))
	}

	s := &session{
		id:        ulid.Make().String(),
		state:     StateTracking,
		startedAt: time.Now(),
		buffers:   make(map[string]*Buffer),
		tabs:      make(map[string]string),
		acc:       analysis.NewAccumulator(),
		pending:   make(map[string]bool),
		inflight:  &sync.WaitGroup{},
		allFinal:  make(chan struct{}),
	}
	c.cur = s
	c.addTab(s, in.TabID, platform, in.PageURL)
	c.setStatus(s.id, StateTracking, StepTracking, 0, false, "")
	log.Printf("session: started %s", s.id)

	return StartResult{SessionID: s.id, StartedAt: s.startedAt, Platforms: s.platforms()}, nil
}

// addTab registers tabID on platform and signals it to start. It reports
// whether the tab was new.
func (c *coordinator) addTab(s *session, tabID, platform, pageURL string) bool {
	if platform != "" {
		b := s.buffer(platform)
		if b.PageURL == "" {
			b.PageURL = pageURL
		}
	}
	if tabID == "" {
		return false
	}
	if _, ok := s.tabs[tabID]; ok {
		return false
	}
	s.tabs[tabID] = platform
	c.a.signaler.Signal(Signal{Kind: SignalStart, SessionID: s.id, TabID: tabID, At: time.Now()})
	return true
}

func (c *coordinator) tabFocus(tabID, platform string) TabFocusResult {
	s := c.cur
	if s == nil || s.state != StateTracking {
		return TabFocusResult{Reason: "no active session"}
	}
	platform = normalizePlatform(platform)
	if !ValidPlatform(platform) {
		return TabFocusResult{SessionID: s.id, Reason: "untracked platform"}
	}
	if tabID == "" {
		return TabFocusResult{SessionID: s.id, Reason: "missing tab id"}
	}
	return TabFocusResult{Added: c.addTab(s, tabID, platform, ""), SessionID: s.id}
}

func (c *coordinator) raw(u *RawUpdate) RawResult {
	s := c.cur
	if u == nil || s == nil || s.id != u.SessionID {
		c.a.metrics.RawUpdate("ignored")
		return RawResult{Reason: "unknown session"}
	}
	if s.sealed || (s.state != StateTracking && s.state != StateFinalizing) {
		c.a.metrics.RawUpdate("ignored")
		return RawResult{Reason: "session closed"}
	}

	counts := make(map[string]int, len(u.Snapshots))
	for _, snap := range u.Snapshots {
		platform := normalizePlatform(snap.Platform)
		if !ValidPlatform(platform) {
			continue
		}
		b := s.buffer(platform)
		if b.Snapshots == 0 {
			b.FirstSeenAt = time.Now()
		}
		if b.PageURL == "" {
			b.PageURL = snap.PageURL
		}
		b.Items = dedupe(snap.Items)
		b.Snapshots++
		if snap.Finalize {
			b.Finalized = true
		}
		if snap.TabID != "" {
			if _, ok := s.tabs[snap.TabID]; !ok {
				s.tabs[snap.TabID] = platform
			}
		}
		counts[platform] = len(b.Items)
	}

	if s.state == StateFinalizing {
		c.checkAllFinalized(s)
	}
	c.a.metrics.RawUpdate("accepted")
	return RawResult{Accepted: true, Items: counts}
}

func (c *coordinator) checkAllFinalized(s *session) {
	if s.allFinalSet {
		return
	}
	for _, b := range s.buffers {
		if !b.Finalized {
			return
		}
	}
	s.allFinalSet = true
	close(s.allFinal)
}

func (c *coordinator) reserve(sessionID string, items []analysis.Item) reservation {
	s := c.cur
	if s == nil || s.id != sessionID {
		return reservation{reason: "unknown session", skipped: len(items)}
	}
	if s.state != StateTracking {
		return reservation{reason: "session not tracking", skipped: len(items)}
	}

	seen := make(map[string]bool, len(items))
	var res reservation
	for _, it := range items {
		if it.Key == "" || seen[it.Key] || s.pending[it.Key] || s.acc.Contains(it.Key) {
			res.skipped++
			continue
		}
		seen[it.Key] = true
		res.batch = append(res.batch, it)
	}
	if len(res.batch) == 0 {
		return res
	}
	for _, it := range res.batch {
		s.pending[it.Key] = true
	}
	s.inflight.Add(1)
	res.inflight = s.inflight
	return res
}

func (c *coordinator) merge(m mergeCmd) {
	defer close(m.done)
	defer m.inflight.Done()

	s := c.cur
	if s == nil || s.id != m.sessionID || s.sealed {
		return
	}
	for _, k := range m.keys {
		delete(s.pending, k)
	}
	s.acc.Add(m.keys, m.result)
}

func (c *coordinator) stop() StopResult {
	s := c.cur
	if s == nil {
		return StopResult{Status: c.status}
	}
	if s.state == StateFinalizing {
		return StopResult{Stopped: true, SessionID: s.id, Status: c.status}
	}

	s.state = StateFinalizing
	s.stoppedAt = time.Now()
	tabs := make([]string, 0, len(s.tabs))
	for id := range s.tabs {
		tabs = append(tabs, id)
	}
	sort.Strings(tabs)
	for _, id := range tabs {
		c.a.signaler.Signal(Signal{Kind: SignalStop, SessionID: s.id, TabID: id, At: s.stoppedAt})
	}
	c.checkAllFinalized(s)
	c.setStatus(s.id, StateFinalizing, StepSettling, 10, true, "")

	id := s.id
	if c.a.opts.ForceClear > 0 {
		s.forceTimer = time.AfterFunc(c.a.opts.ForceClear, func() {
			c.a.post(forceClearCmd{sessionID: id})
		})
	}
	c.a.workers.Add(1)
	go c.a.finalize(id, s.stoppedAt, s.allFinal, s.inflight)

	log.Printf("session: stopping %s", id)
	return StopResult{Stopped: true, SessionID: id, Status: c.status}
}

// seal closes the buffers of a finalizing session and transfers them to the
// finalizer together with the items no batch has analyzed yet.
func (c *coordinator) seal(sessionID string) *sealed {
	s := c.cur
	if s == nil || s.id != sessionID || s.state != StateFinalizing || s.sealed {
		return nil
	}
	s.sealed = true

	out := &sealed{
		startedAt: s.startedAt,
		stoppedAt: s.stoppedAt,
		buffers:   make(map[string]*Buffer, len(s.buffers)),
		acc:       s.acc,
	}
	for _, p := range s.platforms() {
		b := s.buffers[p]
		out.buffers[p] = b.clone()
		for _, obs := range b.Items {
			if s.acc.Contains(obs.Key) {
				continue
			}
			out.remaining = append(out.remaining, obs.item(p))
		}
	}
	return out
}

func (c *coordinator) done(d doneCmd) {
	if d.sessionID == c.draining {
		c.draining = ""
		log.Printf("session: %s: finalizer finished after force clear (err: %v)", d.sessionID, d.err)
		return
	}
	s := c.cur
	if s == nil || s.id != d.sessionID || s.state != StateFinalizing {
		return
	}
	if s.forceTimer != nil {
		s.forceTimer.Stop()
	}
	s.state = StateClosed
	c.cur = nil
	c.a.metrics.FinalizeDuration(d.elapsed)

	if d.err != nil {
		log.Printf("session: finalize %s failed: %v", s.id, d.err)
		c.a.metrics.SessionFinalized("failed")
		c.setStatus(s.id, StateClosed, StepFailed, 100, false, d.err.Error())
		return
	}
	c.a.metrics.SessionFinalized("recorded")
	c.setStatus(s.id, StateClosed, StepDone, 100, false, "")
	log.Printf("session: finalized %s (%d items, %s)", s.id, d.rec.ItemsObserved, d.rec.AnalysisMethod)
}

func (c *coordinator) forceClear(sessionID string) {
	s := c.cur
	if s == nil || s.id != sessionID || s.state != StateFinalizing {
		return
	}
	s.state = StateClosed
	c.cur = nil
	c.draining = s.id
	c.a.metrics.SessionFinalized("force_cleared")
	msg := fmt.Sprintf("finalization did not finish within %s", c.a.opts.ForceClear)
	c.setStatus(s.id, StateClosed, StepForceClear, 100, false, msg)
	log.Printf("session: %s: %s", s.id, msg)
}

func (c *coordinator) view() *View {
	s := c.cur
	if s == nil {
		return nil
	}
	v := &View{
		SessionID: s.id,
		State:     s.state,
		StartedAt: s.startedAt,
		Tabs:      make([]string, 0, len(s.tabs)),
		Buffers:   make(map[string]*Buffer, len(s.buffers)),
		Analyzed:  s.acc.Len(),
	}
	for id := range s.tabs {
		v.Tabs = append(v.Tabs, id)
	}
	sort.Strings(v.Tabs)
	for p, b := range s.buffers {
		v.Buffers[p] = b.clone()
	}
	return v
}
