package log

// Logger receives protocol trace events.
// Pass nil or NoopLogger to disable tracing.
type Logger interface {
	// Log records a protocol event. Implementations must be safe for
	// concurrent use and must not block; events are emitted from the
	// connection read loop.
	Log(event Event)
}

// Flusher is implemented by loggers that buffer events.
type Flusher interface {
	Flush() error
}

// Flush flushes l if it buffers events. Nil and unbuffered loggers are a
// no-op.
func Flush(l Logger) error {
	if f, ok := l.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
