package runtime

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// EventRecorder is an Observer that writes every event to a trace file as
// one JSON object per line. Without a file it keeps the events in memory.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event

	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	err  error
}

// NewEventRecorder creates the trace file and returns a recorder
// streaming to it. An empty traceFile records in memory only.
func NewEventRecorder(traceFile string) (*EventRecorder, error) {
	r := &EventRecorder{}
	if traceFile == "" {
		return r, nil
	}
	f, err := os.Create(traceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	r.file = f
	r.w = bufio.NewWriter(f)
	r.enc = json.NewEncoder(r.w)
	return r, nil
}

// OnEvent records e. The first write error stops recording and is
// reported by Close.
func (r *EventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		if r.file == nil && r.err == nil {
			r.events = append(r.events, e)
		}
		return
	}
	if r.err != nil {
		return
	}
	if err := r.enc.Encode(e); err != nil {
		r.err = fmt.Errorf("failed to encode event: %w", err)
	}
}

// OnFinalize closes the trace file.
func (r *EventRecorder) OnFinalize() {
	if err := r.Close(); err != nil {
		slog.Error("preempt: failed to save trace", "error", err)
	}
}

// Close flushes and closes the trace file. Events arriving afterwards
// are dropped.
func (r *EventRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := errors.Join(r.err, r.w.Flush(), r.file.Close())
	r.enc, r.w, r.file = nil, nil, nil
	r.err = errors.New("recorder closed")
	return err
}

// Events returns a copy of the events recorded in memory.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
