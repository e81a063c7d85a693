package runtime

import (
	"github.com/petermattis/goid"

	"github.com/amirkhaki/preempt/pkg/tracer"
)

// ResetDefaultInterval restores the unconfigured default for tests.
func ResetDefaultInterval() {
	defaultInterval.Store(tracer.Unset)
}

// Installed returns the number of goroutines with a trace function.
func Installed() int64 {
	return installed.Load()
}

// HasContext reports whether the calling goroutine owns a context.
func HasContext() bool {
	_, ok := contexts.Load(goid.Get())
	return ok
}
