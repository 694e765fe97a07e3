package engine

import (
	"errors"
	"sync"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

// Event records where one customer is at the end of a tick.
type Event struct {
	Tick       uint64            `json:"tick"`
	Timestamp  string            `json:"timestamp"`
	CustomerID agents.CustomerID `json:"customer_id"`
	Name       string            `json:"name"`
	Zone       markov.Zone       `json:"zone"`
	Position   *world.Cell       `json:"position,omitempty"`
}

// Sink receives the events of each tick, in customer order.
type Sink interface {
	Record(tick uint64, events []Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(tick uint64, events []Event) error

// Record calls f.
func (f SinkFunc) Record(tick uint64, events []Event) error { return f(tick, events) }

// DiscardSink drops everything.
type DiscardSink struct{}

// Record does nothing.
func (DiscardSink) Record(uint64, []Event) error { return nil }

// MultiSink fans events out to every sink. All sinks see every tick; their
// errors are joined.
type MultiSink []Sink

// Record forwards to each sink.
func (m MultiSink) Record(tick uint64, events []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(tick, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps events in memory, optionally only the most recent Limit.
type MemorySink struct {
	Limit int // 0 keeps everything

	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns a sink that keeps the last limit events.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{Limit: limit}
}

// Record appends events.
func (m *MemorySink) Record(_ uint64, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	if m.Limit > 0 && len(m.events) > m.Limit {
		m.events = append([]Event(nil), m.events[len(m.events)-m.Limit:]...)
	}
	return nil
}

// Events returns a copy of everything kept.
func (m *MemorySink) Events() []Event {
	return m.Recent(0)
}

// Recent returns up to n of the newest events, oldest first. n <= 0 returns
// all of them.
func (m *MemorySink) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if n > 0 && len(m.events) > n {
		start = len(m.events) - n
	}
	out := make([]Event, len(m.events)-start)
	copy(out, m.events[start:])
	return out
}
