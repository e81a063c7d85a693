package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/amirkhaki/preempt/pkg/tracer"
)

// ReadTrace decodes the events an EventRecorder wrote to r.
func ReadTrace(r io.Reader) ([]Event, error) {
	var events []Event
	dec := json.NewDecoder(r)
	for {
		var e Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("trace event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
}

// LoadTrace reads a trace file recorded with PREEMPT_TRACE.
func LoadTrace(filename string) ([]Event, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTrace(f)
}

// GoroutineStats counts the events of one goroutine by kind.
type GoroutineStats struct {
	GoID    int64
	Calls   int
	Lines   int
	Returns int
}

// Steps is the number of events the goroutine's tracer would count.
func (s GoroutineStats) Steps() int {
	return s.Calls + s.Lines + s.Returns
}

// Summarize returns per-goroutine event counts ordered by goroutine id.
func Summarize(trace []Event) []GoroutineStats {
	byID := make(map[int64]*GoroutineStats)
	for _, e := range trace {
		s := byID[e.GoID]
		if s == nil {
			s = &GoroutineStats{GoID: e.GoID}
			byID[e.GoID] = s
		}
		switch e.Kind {
		case tracer.KindCall:
			s.Calls++
		case tracer.KindLine:
			s.Lines++
		case tracer.KindReturn:
			s.Returns++
		}
	}
	stats := make([]GoroutineStats, 0, len(byID))
	for _, s := range byID {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].GoID < stats[j].GoID })
	return stats
}
