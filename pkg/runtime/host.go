package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/amirkhaki/preempt/pkg/tracer"
)

// slot is the trace registration of one goroutine. It is only touched by
// the goroutine that owns it.
type slot struct {
	fn  tracer.TraceFunc
	ctx any
	// dispatching is set while fn runs so that events raised by the
	// trace function itself are not delivered back to it.
	dispatching bool
}

var (
	slots sync.Map // int64 goroutine id -> *slot

	// installed counts goroutines with a trace function so the untraced
	// path costs a single atomic load.
	installed atomic.Int64
)

// SetTrace installs fn as the trace function of the calling goroutine,
// passing ctx on every invocation. A nil fn removes it.
func SetTrace(fn tracer.TraceFunc, ctx any) {
	id := goid.Get()
	if fn == nil {
		v, ok := slots.Load(id)
		if !ok {
			return
		}
		s := v.(*slot)
		if s.fn != nil {
			installed.Add(-1)
		}
		s.fn, s.ctx = nil, nil
		if !s.dispatching {
			slots.Delete(id)
		}
		return
	}
	v, _ := slots.LoadOrStore(id, &slot{})
	s := v.(*slot)
	if s.fn == nil {
		installed.Add(1)
	}
	s.fn, s.ctx = fn, ctx
}

// Tracing reports whether the calling goroutine has a trace function.
func Tracing() bool {
	if installed.Load() == 0 {
		return false
	}
	v, ok := slots.Load(goid.Get())
	return ok && v.(*slot).fn != nil
}

// goroutineHost implements tracer.Host for the goroutine that created it.
type goroutineHost struct{}

func (goroutineHost) Install(fn tracer.TraceFunc, ctx any) {
	SetTrace(fn, ctx)
}

func (goroutineHost) Uninstall() {
	SetTrace(nil, nil)
}

// dispatch delivers e to the trace function of the calling goroutine.
// A trace function error aborts the goroutine with an *Abort panic.
func dispatch(e Event) {
	if obs := observer.Load(); obs != nil {
		(*obs).OnEvent(e)
	}
	if installed.Load() == 0 {
		return
	}
	v, ok := slots.Load(e.GoID)
	if !ok {
		return
	}
	s := v.(*slot)
	if s.fn == nil || s.dispatching {
		return
	}
	s.dispatching = true
	err := func() error {
		defer func() {
			s.dispatching = false
			if s.fn == nil {
				slots.Delete(e.GoID)
			}
		}()
		return s.fn(s.ctx, e.traceEvent())
	}()
	if err != nil {
		panic(&Abort{Err: err})
	}
}
