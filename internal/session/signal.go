package session

import (
	"sync"
	"time"
)

// SignalKind is a control message sent to a page tracker.
type SignalKind string

const (
	SignalStart SignalKind = "start"
	SignalStop  SignalKind = "stop"
)

// Signal tells one tab to begin or end tracking.
type Signal struct {
	Kind      SignalKind `json:"kind"`
	SessionID string     `json:"sessionId"`
	TabID     string     `json:"tabId"`
	At        time.Time  `json:"at"`
}

// Signaler delivers control signals to tabs. Implementations must not block.
type Signaler interface {
	Signal(s Signal)
}

// DefaultMailboxDepth bounds the queued signals per tab.
const DefaultMailboxDepth = 32

// Mailbox queues signals per tab until the tab polls for them.
// When a queue is full the oldest signal is discarded.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string][]Signal
	depth  int
}

// NewMailbox returns an empty mailbox holding up to depth signals per tab.
func NewMailbox(depth int) *Mailbox {
	if depth <= 0 {
		depth = DefaultMailboxDepth
	}
	return &Mailbox{queues: make(map[string][]Signal), depth: depth}
}

// Signal enqueues s for s.TabID.
func (m *Mailbox) Signal(s Signal) {
	if s.TabID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := append(m.queues[s.TabID], s)
	if len(q) > m.depth {
		q = q[len(q)-m.depth:]
	}
	m.queues[s.TabID] = q
}

// Drain returns and clears the pending signals for tabID, oldest first.
func (m *Mailbox) Drain(tabID string) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[tabID]
	delete(m.queues, tabID)
	if q == nil {
		return []Signal{}
	}
	return q
}

// Pending returns how many signals are queued for tabID.
func (m *Mailbox) Pending(tabID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[tabID])
}
