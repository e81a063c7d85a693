// Package interrupt turns asynchronous OS signals into errors raised at
// the next tracer callback of a traced execution.
package interrupt

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/amirkhaki/preempt/pkg/tracer"
)

// DefaultCheckInterval is the number of steps between two polls of the
// interrupt buffer.
const DefaultCheckInterval = 10_000

// ErrKeyboardInterrupt is matched by *KeyboardInterrupt.
var ErrKeyboardInterrupt = errors.New("keyboard interrupt")

// KeyboardInterrupt is returned by a Checker that found a pending signal.
type KeyboardInterrupt struct {
	Signal int32
}

func (e *KeyboardInterrupt) Error() string {
	return fmt.Sprintf("keyboard interrupt (signal %d)", e.Signal)
}

func (e *KeyboardInterrupt) Is(target error) bool {
	return target == ErrKeyboardInterrupt
}

// Buffer holds the number of a pending signal. Zero means none.
// It may be written from any goroutine.
type Buffer struct {
	v atomic.Int32
}

// Set marks sig as pending.
func (b *Buffer) Set(sig int32) {
	b.v.Store(sig)
}

// Load returns the pending signal, or zero.
func (b *Buffer) Load() int32 {
	return b.v.Load()
}

// Clear drops the pending signal and returns it.
func (b *Buffer) Clear() int32 {
	return b.v.Swap(0)
}

// Checker returns a tracer callback that fails with *KeyboardInterrupt
// when buf holds a signal. The signal is consumed.
func Checker(buf *Buffer) tracer.Callback {
	return func() error {
		if buf.Load() == 0 {
			return nil
		}
		sig := buf.Clear()
		if sig == 0 {
			return nil
		}
		return &KeyboardInterrupt{Signal: sig}
	}
}

// Notify relays the given signals into buf until stop is called.
// A signal arriving while the previous one is still pending means the
// traced code is not reaching its checks; it is handed to force, when
// force is non-nil.
func Notify(buf *Buffer, force func(os.Signal), signals ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, signals...)
	go func() {
		for {
			select {
			case sig := <-ch:
				if buf.Load() != 0 && force != nil {
					force(sig)
					continue
				}
				buf.Set(signalNumber(sig))
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func signalNumber(sig os.Signal) int32 {
	if s, ok := sig.(syscall.Signal); ok {
		return int32(s)
	}
	return int32(syscall.SIGINT)
}
