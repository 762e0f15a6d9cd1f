package log

// MultiLogger fans events out to several loggers, e.g. a SlogAdapter for the
// console and a FileLogger for offline analysis.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{loggers: make([]Logger, 0, len(loggers))}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends the event to every configured logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Flush flushes every logger that buffers events and returns the first
// error.
func (m *MultiLogger) Flush() error {
	var first error
	for _, l := range m.loggers {
		if err := Flush(l); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Logger  = (*MultiLogger)(nil)
	_ Flusher = (*MultiLogger)(nil)
)
