package cpc

import (
	"fmt"
	"io"
	"time"

	"github.com/cpc-host/cpc-go/pkg/wire"
)

// Flags modify a single Read or Write call.
type Flags uint32

const (
	// FlagNonBlock makes the call return ErrWouldBlock instead of waiting,
	// whatever OptionBlocking says.
	FlagNonBlock Flags = 1 << iota
)

// deadline returns a channel that fires after d, or nil for d == 0.
func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// Write sends one payload to the secondary. A blocking write waits for a
// free window slot and for the daemon to acknowledge the payload, both
// bounded by OptionTxTimeout. A non-blocking write returns ErrWouldBlock
// when the slot is taken and otherwise returns len(p) once the payload is
// sent, without waiting for the acknowledgement. A refusal in that
// acknowledgement is not reported to the caller; an endpoint failure still
// surfaces through the daemon's state event on the next call.
func (e *Endpoint) Write(p []byte, flags Flags) (int, error) {
	if err := e.usable(); err != nil {
		return 0, err
	}

	e.rec.mu.Lock()
	opts := e.rec.opts
	e.rec.mu.Unlock()

	if len(p) > opts.maxWriteSize {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(p), opts.maxWriteSize)
	}
	if len(p) == 0 {
		return 0, nil
	}

	nonBlock := flags&FlagNonBlock != 0 || !opts.blocking
	var timeout <-chan time.Time
	if !nonBlock {
		var stop func()
		timeout, stop = deadline(opts.txTimeout)
		defer stop()
	}

	select {
	case <-e.rec.slot:
	default:
		if nonBlock {
			return 0, ErrWouldBlock
		}
		select {
		case <-e.rec.slot:
		case <-e.rec.done:
			return 0, e.ioErr()
		case <-timeout:
			return 0, fmt.Errorf("%w: no window slot on %s within %s", ErrTimeout, e.rec.id, opts.txTimeout)
		}
	}

	if err := e.usable(); err != nil {
		e.rec.releaseSlot()
		return 0, err
	}
	l, err := e.sess.linkFor(e.gen)
	if err != nil {
		e.rec.releaseSlot()
		return 0, err
	}

	c, err := l.start(&wire.Request{
		Operation:  wire.OpWrite,
		EndpointID: uint8(e.rec.id),
		Data:       p,
	}, func(*wire.Response) { e.rec.releaseSlot() })
	if err != nil {
		e.rec.releaseSlot()
		return 0, e.linkErr(err)
	}

	if nonBlock {
		return len(p), nil
	}

	select {
	case resp, ok := <-c.resp:
		if !ok {
			return 0, e.linkErr(l.err())
		}
		if !resp.IsSuccess() {
			return 0, statusError(e.rec.id, wire.OpWrite, resp)
		}
		return len(p), nil
	case <-e.rec.done:
		return 0, e.ioErr()
	case <-timeout:
		return 0, fmt.Errorf("%w: write on %s not acknowledged within %s", ErrTimeout, e.rec.id, opts.txTimeout)
	}
}

// Read copies the oldest received payload into p. If p is shorter than
// the payload the rest is returned by the next Read. A blocking read waits
// up to OptionRxTimeout for data. A non-blocking read returns ErrWouldBlock
// when no data is queued or another Read is in progress.
func (e *Endpoint) Read(p []byte, flags Flags) (int, error) {
	if err := e.usable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	e.rec.mu.Lock()
	opts := e.rec.opts
	e.rec.mu.Unlock()

	nonBlock := flags&FlagNonBlock != 0 || !opts.blocking
	var timeout <-chan time.Time
	if nonBlock {
		// Another reader owns the queue head.
		if !e.rec.readMu.TryLock() {
			return 0, ErrWouldBlock
		}
	} else {
		var stop func()
		timeout, stop = deadline(opts.rxTimeout)
		defer stop()
		e.rec.readMu.Lock()
	}
	defer e.rec.readMu.Unlock()

	for {
		if err := e.usable(); err != nil {
			return 0, err
		}
		if n, ok := e.rec.pop(p); ok {
			return n, nil
		}
		if nonBlock {
			return 0, ErrWouldBlock
		}

		select {
		case <-e.rec.rxReady:
		case <-e.rec.done:
		case <-timeout:
			return 0, fmt.Errorf("%w: no data on %s within %s", ErrTimeout, e.rec.id, opts.rxTimeout)
		}
	}
}

// pop copies the head payload into p, keeping any remainder at the head.
func (r *record) pop(p []byte) (int, bool) {
	r.mu.Lock()
	if r.state != StateOpen || r.invalidated || len(r.rx) == 0 {
		r.mu.Unlock()
		return 0, false
	}
	head := r.rx[0]
	n := copy(p, head)
	if n < len(head) {
		r.rx[0] = head[n:]
	} else {
		r.rx[0] = nil
		r.rx = r.rx[1:]
	}
	more := len(r.rx) > 0
	r.mu.Unlock()

	if more {
		r.signalRx()
	}
	return n, true
}

// Reader returns an io.Reader doing blocking reads. It reports io.EOF once
// the endpoint is closed.
func (e *Endpoint) Reader() io.Reader {
	return endpointReader{e}
}

// Writer returns an io.Writer doing blocking writes, split into payloads
// of at most MaxWriteSize bytes.
func (e *Endpoint) Writer() io.Writer {
	return endpointWriter{e}
}

type endpointReader struct{ e *Endpoint }

func (r endpointReader) Read(p []byte) (int, error) {
	n, err := r.e.Read(p, 0)
	if err != nil && r.e.State() == StateClosed && !r.e.stale() {
		return n, io.EOF
	}
	return n, err
}

type endpointWriter struct{ e *Endpoint }

func (w endpointWriter) Write(p []byte) (int, error) {
	limit := w.e.MaxWriteSize()
	if limit <= 0 {
		limit = fallbackMaxWriteSize
	}
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > limit {
			chunk = chunk[:limit]
		}
		n, err := w.e.Write(chunk, 0)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}
