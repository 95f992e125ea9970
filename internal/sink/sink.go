// Package sink persists the ordered event stream produced by the trace
// controller. Sinks are append-only and single-producer: the controller is
// the only writer, and sequence numbers are assigned strictly in order.
package sink

import (
	"sync"

	"github.com/provtools/provtrace/internal/event"
)

// Sink receives trace events from the controller.
type Sink interface {
	// Append records the event, assigns it the next sequence number, and
	// returns it.
	Append(ev event.Event) (uint64, error)

	// Finalize fixes the session's maximum sequence number and stores the
	// final process table snapshot. complete is false when tracing was
	// interrupted; the partial trace stays valid.
	Finalize(snapshot []byte, complete bool) error
}

// Memory is an in-memory sink, used by tests and by testrun-style dumps.
type Memory struct {
	mu      sync.Mutex
	nextSeq uint64
	events  []event.Event

	finalized bool
	complete  bool
	snapshot  []byte
}

// NewMemory returns a memory sink whose first assigned sequence number is
// startSeq+1, so a continue session can pass the prior maximum.
func NewMemory(startSeq uint64) *Memory {
	return &Memory{nextSeq: startSeq}
}

// Append implements Sink.
func (m *Memory) Append(ev event.Event) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	ev.Seq = m.nextSeq
	m.events = append(m.events, ev)
	return ev.Seq, nil
}

// Finalize implements Sink.
func (m *Memory) Finalize(snapshot []byte, complete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	m.complete = complete
	m.snapshot = append([]byte(nil), snapshot...)
	return nil
}

// Events returns the recorded events in emission order.
func (m *Memory) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Event, len(m.events))
	copy(out, m.events)
	return out
}

// MaxSeq returns the highest assigned sequence number.
func (m *Memory) MaxSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq
}

// Snapshot returns the process table snapshot stored at Finalize.
func (m *Memory) Snapshot() []byte { return m.snapshot }

// Complete reports whether the session finalized without interruption.
func (m *Memory) Complete() bool { return m.complete }
