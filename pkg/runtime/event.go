package runtime

import "github.com/amirkhaki/preempt/pkg/tracer"

// Event represents a single traced event as seen by observers
type Event struct {
	GoID int64            `json:"goid"`
	Kind tracer.EventKind `json:"kind"`
	Pos  string           `json:"pos,omitempty"` // "file:line" or function name
}

func (e Event) traceEvent() tracer.Event {
	return tracer.Event{Kind: e.Kind, Pos: e.Pos}
}
