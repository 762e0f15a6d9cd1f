package cpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/cpc-host/cpc-go/pkg/wire"
)

// Endpoint is a handle to an opened endpoint. It belongs to the generation
// it was opened in and becomes stale when that generation ends.
type Endpoint struct {
	sess *Session
	rec  *record
	gen  uint32
}

// ID returns the endpoint ID.
func (e *Endpoint) ID() EndpointID {
	return e.rec.id
}

// Generation returns the session generation the handle was opened in.
func (e *Endpoint) Generation() uint32 {
	return e.gen
}

// State returns the locally tracked endpoint state.
func (e *Endpoint) State() State {
	return e.rec.State()
}

func (e *Endpoint) stale() bool {
	s := e.sess
	return s.gen.Load() != e.gen || s.lostGen.Load() >= e.gen || e.rec.isInvalidated()
}

// usable returns nil if the handle can do I/O, or the reason it cannot.
func (e *Endpoint) usable() error {
	if e.sess.isClosed() {
		return ErrSessionClosed
	}
	if e.stale() {
		return fmt.Errorf("%w: endpoint %s of generation %d", ErrStaleHandle, e.rec.id, e.gen)
	}
	if st := e.rec.State(); st != StateOpen {
		return e.stateErr(st)
	}
	return nil
}

// ioErr explains why a blocked call was woken.
func (e *Endpoint) ioErr() error {
	if err := e.usable(); err != nil {
		return err
	}
	return fmt.Errorf("%w: endpoint %s", ErrEndpointNotOpen, e.rec.id)
}

func (e *Endpoint) stateErr(st State) error {
	if st.IsError() {
		return &StateError{ID: e.rec.id, State: st}
	}
	return fmt.Errorf("%w: endpoint %s is %s", ErrEndpointNotOpen, e.rec.id, st)
}

// linkErr maps a failed request on the handle's link.
func (e *Endpoint) linkErr(err error) error {
	switch {
	case errors.Is(err, ErrSessionClosed):
		return ErrSessionClosed
	case errors.Is(err, ErrStaleHandle):
		return err
	case errors.Is(err, errLinkDown):
		if e.sess.isClosed() {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: %v", ErrStaleHandle, err)
	}
	return err
}

// Close closes the endpoint. Blocked Read and Write calls return
// ErrEndpointNotOpen. Closing a closed endpoint is a no-op. An endpoint in
// an error state keeps that state; the ID can be opened again after the
// next Restart.
func (e *Endpoint) Close() error {
	if e.sess.isClosed() {
		return ErrSessionClosed
	}
	if e.stale() {
		return fmt.Errorf("%w: endpoint %s of generation %d", ErrStaleHandle, e.rec.id, e.gen)
	}

	prev, owner := e.rec.beginClose()
	if !owner {
		if e.rec.isInvalidated() {
			return fmt.Errorf("%w: endpoint %s of generation %d", ErrStaleHandle, e.rec.id, e.gen)
		}
		if prev.IsError() {
			e.closeRemote()
		}
		return nil
	}

	e.sess.traceState(e.gen, &e.rec.id, prev.String(), StateClosing.String(), "close")
	e.closeRemote()
	e.rec.finishClose()
	e.sess.debugLog("cpc endpoint closed", "endpoint", e.rec.id, "generation", e.gen)
	e.sess.traceState(e.gen, &e.rec.id, StateClosing.String(), StateClosed.String(), "close")
	return nil
}

// closeRemote tells the daemon the endpoint is closed. Failures only log:
// the local close always completes.
func (e *Endpoint) closeRemote() {
	l, err := e.sess.linkFor(e.gen)
	if err != nil {
		return
	}
	resp, err := l.request(context.Background(), &wire.Request{
		Operation:  wire.OpClose,
		EndpointID: uint8(e.rec.id),
	})
	switch {
	case err != nil:
		e.sess.debugLog("cpc close request failed", "endpoint", e.rec.id, "error", err)
	case !resp.IsSuccess():
		e.sess.debugLog("cpc close refused", "endpoint", e.rec.id, "status", resp.Status)
	}
}
