// Package tracer counts traced execution steps and invokes a callback
// once every configured number of them.
//
// A Tracer is one tracing context. It is not safe for concurrent use; the
// host is expected to hand out one Tracer per thread of execution, since
// execution tracing is inherently per thread.
package tracer

import (
	"fmt"
	"log/slog"
)

// Unset is returned by Interval before SetInterval succeeded.
const Unset int64 = -1

// Callback is called once every interval steps. A non-nil error ends
// tracing and aborts the traced execution.
type Callback func() error

// State is the lifecycle state of a Tracer.
type State uint8

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Tracer counts the events a Host delivers and fires a Callback every
// Interval of them.
type Tracer struct {
	host      Host
	interval  int64
	remaining int64
	callback  Callback
	state     State
}

// New returns an inactive Tracer that will register with host.
func New(host Host) *Tracer {
	return &Tracer{
		host:     host,
		interval: Unset,
	}
}

// SetInterval sets how many steps to wait between calls to the callback.
// A running session keeps its current countdown; the new value is used
// from the next reset on.
func (t *Tracer) SetInterval(interval int64) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval should be positive, got %d", ErrInvalidArgument, interval)
	}
	t.interval = interval
	return nil
}

// Interval returns the configured interval, or Unset.
func (t *Tracer) Interval() int64 {
	return t.interval
}

// Start begins a tracing session that calls cb every Interval steps.
//
// Calling Start while a session is active replaces the callback and
// restarts the countdown without reporting an error.
func (t *Tracer) Start(cb Callback) error {
	if t.interval <= 0 {
		return fmt.Errorf("%w: must call SetInterval before calling Start", ErrState)
	}
	if cb == nil {
		return fmt.Errorf("%w: callback must not be nil", ErrInvalidArgument)
	}
	if t.state == Active {
		slog.Debug("tracer: replacing active session", "interval", t.interval)
	}
	t.remaining = t.interval
	t.callback = cb
	t.state = Active
	t.host.Install(t.trace, cb)
	slog.Debug("tracer: started", "interval", t.interval)
	return nil
}

// End stops tracing and releases the callback. It is a no-op when no
// session is active and may be called from inside the callback.
func (t *Tracer) End() {
	t.host.Uninstall()
	if t.state == Active {
		slog.Debug("tracer: ended")
	}
	t.callback = nil
	t.state = Inactive
}

// State reports whether a session is active.
func (t *Tracer) State() State {
	return t.state
}

// Active is shorthand for State() == Active.
func (t *Tracer) Active() bool {
	return t.state == Active
}

// Remaining returns the number of steps left until the next firing.
// It is meaningless while inactive.
func (t *Tracer) Remaining() int64 {
	return t.remaining
}

// trace is the TraceFunc installed on the host. Every event counts,
// whatever its kind.
func (t *Tracer) trace(ctx any, _ Event) error {
	if t.state != Active {
		return nil
	}
	t.remaining--
	if t.remaining > 0 {
		return nil
	}
	t.remaining = t.interval
	cb, ok := ctx.(Callback)
	if !ok || cb == nil {
		cb = t.callback
	}
	return t.fire(cb)
}

// fire runs cb. On failure the session is ended before the error (or
// panic) leaves the tracer.
func (t *Tracer) fire(cb Callback) error {
	returned := false
	defer func() {
		if !returned {
			t.End()
		}
	}()
	err := cb()
	returned = true
	if err != nil {
		t.End()
		slog.Debug("tracer: callback failed, tracing disabled", "error", err)
		return &CallbackError{Err: err}
	}
	return nil
}
