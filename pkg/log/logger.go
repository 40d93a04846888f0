package log

// Logger is the interface the runtime uses to emit event records.
// Pass nil or NoopLogger to disable event capture.
type Logger interface {
	// Log records a runtime event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking delays
	// the scan cycle that produced it.
	Log(event Event)
}

// NoopLogger discards all events. Use when event capture is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
