package tracer

// EventKind represents the type of traced execution event
type EventKind uint8

const (
	KindCall EventKind = iota + 1
	KindLine
	KindReturn
)

func (k EventKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindLine:
		return "line"
	case KindReturn:
		return "return"
	default:
		return "unknown"
	}
}

// Event describes a single traceable step delivered by a Host.
type Event struct {
	Kind EventKind
	// Pos is "file:line" for line events and the qualified function
	// name for call events. It may be empty.
	Pos string
}

// TraceFunc is invoked by a Host on every traceable event of the
// execution it was installed on. ctx is the value passed to Install.
// A non-nil error asks the host to abort the traced execution with it.
type TraceFunc func(ctx any, ev Event) error

// Host is the execution-trace facility a Tracer registers itself with.
type Host interface {
	// Install makes fn the trace function of the host, replacing any
	// previously installed one.
	Install(fn TraceFunc, ctx any)

	// Uninstall removes the trace function. It must be safe to call
	// when nothing is installed, including from inside fn.
	Uninstall()
}
