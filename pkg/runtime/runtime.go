// Package runtime is the execution-trace host linked into programs
// rewritten by the instrument package. Instrumented code reports every
// function entry, statement and function return through the hooks below,
// and each goroutine may install its own trace function on that stream.
//
// Environment variables read by Initialize:
//   - PREEMPT_INTERVAL: steps between interrupt checks (default: 10000)
//   - PREEMPT_INTERRUPT: turn SIGINT into a KeyboardInterrupt abort of the
//     main goroutine (default: true)
//   - PREEMPT_TRACE: record every event to this JSON-lines file
//   - DEBUG: enable debug logging
package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/amirkhaki/preempt/pkg/envutil"
	"github.com/amirkhaki/preempt/pkg/interrupt"
	"github.com/amirkhaki/preempt/pkg/tracer"
)

// Abort is the panic value used to unwind a goroutine whose trace
// function failed.
type Abort struct {
	Err error
}

func (a *Abort) Error() string {
	return fmt.Sprintf("traced execution aborted: %v", a.Err)
}

func (a *Abort) Unwrap() error {
	return a.Err
}

var (
	contexts        sync.Map // int64 goroutine id -> *tracer.Tracer
	defaultInterval atomic.Int64
	observer        atomic.Pointer[Observer]

	stopNotify func()
)

func init() {
	defaultInterval.Store(tracer.Unset)
}

// SetObserver makes o receive every event. A nil o removes the observer.
func SetObserver(o Observer) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&o)
}

// SetDefaultInterval sets the interval new goroutine contexts start with.
func SetDefaultInterval(interval int64) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval should be positive, got %d", tracer.ErrInvalidArgument, interval)
	}
	defaultInterval.Store(interval)
	return nil
}

// Current returns the tracing context of the calling goroutine, creating
// it on first use.
func Current() *tracer.Tracer {
	id := goid.Get()
	if v, ok := contexts.Load(id); ok {
		return v.(*tracer.Tracer)
	}
	t := tracer.New(goroutineHost{})
	if n := defaultInterval.Load(); n > 0 {
		_ = t.SetInterval(n)
	}
	contexts.Store(id, t)
	return t
}

// Release ends tracing on the calling goroutine and drops its context.
// Contexts are not dropped when a goroutine exits, so a goroutine that
// traced itself must call Release before returning.
func Release() {
	id := goid.Get()
	if v, ok := contexts.LoadAndDelete(id); ok {
		v.(*tracer.Tracer).End()
	}
}

// SetInterval sets the interval of the calling goroutine's context.
func SetInterval(interval int64) error {
	return Current().SetInterval(interval)
}

// GetInterval returns the interval of the calling goroutine's context.
func GetInterval() int64 {
	return Current().Interval()
}

// Start calls cb every interval steps executed by the calling goroutine.
// While any goroutine has an active session every hook pays for a
// goroutine id lookup; End or Release restores the untraced fast path.
func Start(cb tracer.Callback) error {
	return Current().Start(cb)
}

// End stops tracing on the calling goroutine.
func End() {
	Current().End()
}

// Run calls fn and returns the error of a trace function that aborted it.
// Panics other than *Abort are propagated.
func Run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(*Abort)
			if !ok {
				panic(r)
			}
			err = a.Err
		}
	}()
	fn()
	return nil
}

// Exec runs fn with cb called every interval steps, and ends tracing
// when fn returns or is aborted. A context created by Exec is released
// with it.
func Exec(interval int64, cb tracer.Callback, fn func()) error {
	_, existed := contexts.Load(goid.Get())
	t := Current()
	if existed {
		defer t.End()
	} else {
		defer Release()
	}
	if err := t.SetInterval(interval); err != nil {
		return err
	}
	if err := t.Start(cb); err != nil {
		return err
	}
	return Run(fn)
}

// --- Instrumentation Hooks ---

// Call is called at the start of each instrumented function.
func Call(fn string) {
	emit(tracer.KindCall, fn)
}

// Line is called before each instrumented statement.
func Line(pos string) {
	emit(tracer.KindLine, pos)
}

// Return is deferred by each instrumented function.
func Return() {
	emit(tracer.KindReturn, "")
}

func emit(kind tracer.EventKind, pos string) {
	if installed.Load() == 0 && observer.Load() == nil {
		return
	}
	dispatch(Event{GoID: goid.Get(), Kind: kind, Pos: pos})
}

// --- Program bootstrap ---

// Initialize sets up the runtime. Must be called at the start of main.
func Initialize() {
	if envutil.Bool("DEBUG", false) {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	interval := envutil.Int64("PREEMPT_INTERVAL", interrupt.DefaultCheckInterval)
	if err := SetDefaultInterval(interval); err != nil {
		slog.Warn("preempt: ignoring PREEMPT_INTERVAL", "error", err)
		_ = SetDefaultInterval(interrupt.DefaultCheckInterval)
	}

	if traceFile := envutil.String("PREEMPT_TRACE", ""); traceFile != "" {
		rec, err := NewEventRecorder(traceFile)
		if err != nil {
			slog.Warn("preempt: not recording events", "error", err)
		} else {
			SetObserver(rec)
		}
	}

	if envutil.Bool("PREEMPT_INTERRUPT", true) {
		buf := &interrupt.Buffer{}
		stopNotify = interrupt.Notify(buf, forceExit, os.Interrupt)
		if err := Start(interrupt.Checker(buf)); err != nil {
			slog.Error("preempt: failed to start interrupt checker", "error", err)
		}
	}
	slog.Debug("preempt: initialized", "interval", defaultInterval.Load())
}

// Finalize cleans up the runtime. Must be deferred at the start of main.
// It turns an aborted main goroutine into a process exit.
func Finalize() {
	r := recover()

	End()
	if stopNotify != nil {
		stopNotify()
		stopNotify = nil
	}
	if obs := observer.Load(); obs != nil {
		(*obs).OnFinalize()
	}

	if r == nil {
		return
	}
	a, ok := r.(*Abort)
	if !ok {
		panic(r)
	}
	if errors.Is(a.Err, interrupt.ErrKeyboardInterrupt) {
		fmt.Fprintln(os.Stderr, "KeyboardInterrupt")
		os.Exit(130)
	}
	slog.Error("preempt: traced execution aborted", "error", a.Err)
	os.Exit(1)
}

func forceExit(sig os.Signal) {
	slog.Warn("preempt: interrupt still pending, exiting", "signal", sig)
	os.Exit(130)
}
