package dispatcher

import (
	"sort"
	"sync"
	"time"
)

// State is the lifecycle position of a dispatched request
type State int

const (
	StateReceived State = iota
	StateQueued
	StateExecuting
	StateCompleted
	StateFailed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateQueued:
		return "queued"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateRejected
}

// RequestInfo describes one in-flight request
type RequestInfo struct {
	ID        uint64        `json:"id"`
	Operation string        `json:"operation"`
	RequestID string        `json:"request_id,omitempty"`
	State     string        `json:"state"`
	Age       time.Duration `json:"age"`
}

type entry struct {
	id        uint64
	operation string
	requestID string
	state     State
	started   time.Time
}

// InFlightSet tracks admitted requests up to a ceiling. Only the dispatcher
// mutates it; its mutex is never held while the pool mutex is.
type InFlightSet struct {
	mu      sync.Mutex
	ceiling int
	entries map[uint64]*entry
	nextID  uint64
	peak    int
	closed  bool
	drained chan struct{}
}

// NewInFlightSet creates a set admitting at most ceiling requests
func NewInFlightSet(ceiling int) *InFlightSet {
	return &InFlightSet{
		ceiling: ceiling,
		entries: make(map[uint64]*entry),
	}
}

// admit registers a request in state Queued. It fails when the set is full
// or closed; the returned reason names which.
func (s *InFlightSet) admit(operation, requestID string, now time.Time) (*entry, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, "shutting_down"
	}
	if len(s.entries) >= s.ceiling {
		return nil, "at_capacity"
	}

	s.nextID++
	e := &entry{
		id:        s.nextID,
		operation: operation,
		requestID: requestID,
		state:     StateQueued,
		started:   now,
	}
	s.entries[e.id] = e
	if n := len(s.entries); n > s.peak {
		s.peak = n
	}
	return e, ""
}

func (s *InFlightSet) transition(e *entry, state State) {
	s.mu.Lock()
	e.state = state
	s.mu.Unlock()
}

func (s *InFlightSet) remove(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, e.id)
	if s.closed && len(s.entries) == 0 && s.drained != nil {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
	}
}

// close stops admission and returns a channel closed once the set is empty
func (s *InFlightSet) close() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drained == nil {
		s.drained = make(chan struct{})
	}
	s.closed = true
	if len(s.entries) == 0 {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
	}
	return s.drained
}

// Len returns the number of in-flight requests
func (s *InFlightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Ceiling returns the admission limit
func (s *InFlightSet) Ceiling() int { return s.ceiling }

// Peak returns the highest number of requests ever in flight at once
func (s *InFlightSet) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Closed reports whether admission has stopped
func (s *InFlightSet) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot lists in-flight requests, oldest first
func (s *InFlightSet) Snapshot(now time.Time) []RequestInfo {
	s.mu.Lock()
	out := make([]RequestInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, RequestInfo{
			ID:        e.id,
			Operation: e.operation,
			RequestID: e.requestID,
			State:     e.state.String(),
			Age:       now.Sub(e.started),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// counts returns the number of in-flight requests per state
func (s *InFlightSet) counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, 2)
	for _, e := range s.entries {
		out[e.state.String()]++
	}
	return out
}
