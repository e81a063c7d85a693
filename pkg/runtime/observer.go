package runtime

// Observer receives every event emitted by instrumented code, whether or
// not a trace function is installed on the emitting goroutine.
// Implementations must be safe for concurrent use.
type Observer interface {
	// OnEvent is called for each event before it is dispatched.
	OnEvent(e Event)

	// OnFinalize is called by Finalize at the end of main.
	OnFinalize()
}
