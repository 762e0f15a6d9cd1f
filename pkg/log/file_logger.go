package log

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLoggerOptions tunes a FileLogger.
type FileLoggerOptions struct {
	// SplitGenerations starts a new file whenever an event of a newer
	// session generation arrives (see GenerationPath). Events without a
	// generation, and late events of an older one, go to the current file.
	SplitGenerations bool
}

// FileLogger appends trace events to a .clog file as a CBOR sequence.
//
// Writes are buffered. Session-layer events and errors flush the buffer, so
// a lost daemon connection is on disk even if the process dies right
// after. Flush and Close write out the rest.
type FileLogger struct {
	path string
	opts FileLoggerOptions

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *cbor.Encoder
	gen     uint32 // newest generation seen
	closed  bool
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerWithOptions(path, FileLoggerOptions{})
}

// NewFileLoggerWithOptions opens path for appending. With SplitGenerations,
// path receives the events logged before the first generation.
func NewFileLoggerWithOptions(path string, opts FileLoggerOptions) (*FileLogger, error) {
	l := &FileLogger{path: path, opts: opts}
	if err := l.open(path); err != nil {
		return nil, err
	}
	return l, nil
}

// GenerationPath returns the file that holds generation gen of a split
// trace: session.clog becomes session.gen3.clog.
func GenerationPath(path string, gen uint32) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.gen%d%s", strings.TrimSuffix(path, ext), gen, ext)
}

// open switches to a new file. Caller holds l.mu or owns l.
func (l *FileLogger) open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.buf = bufio.NewWriter(f)
	l.encoder = eventEncMode.NewEncoder(l.buf)
	return nil
}

// rotate moves to the file of generation gen. Caller holds l.mu.
func (l *FileLogger) rotate(gen uint32) error {
	if err := l.closeFile(); err != nil {
		return err
	}
	return l.open(GenerationPath(l.path, gen))
}

func (l *FileLogger) closeFile() error {
	ferr := l.buf.Flush()
	if err := l.file.Close(); ferr == nil {
		ferr = err
	}
	return ferr
}

// Log writes an event. A failing write is dropped; tracing never fails
// the traced operation.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if event.Generation > l.gen {
		l.gen = event.Generation
		if l.opts.SplitGenerations {
			if err := l.rotate(event.Generation); err != nil {
				l.closed = true
				return
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return
	}
	if event.Layer == LayerSession || event.Error != nil {
		_ = l.buf.Flush()
	}
}

// Flush writes buffered events to the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.buf.Flush()
}

// Generation returns the newest session generation logged so far.
func (l *FileLogger) Generation() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Close flushes and closes the current file. It is safe to call more than
// once; later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeFile()
}

var (
	_ Logger  = (*FileLogger)(nil)
	_ Flusher = (*FileLogger)(nil)
)
