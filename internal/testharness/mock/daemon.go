// Package mock provides an in-process daemon double for testing the
// client library over a real Unix socket.
package mock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/transport"
	"github.com/cpc-host/cpc-go/pkg/version"
	"github.com/cpc-host/cpc-go/pkg/wire"
)

// DefaultMaxWriteSize is the payload limit announced on Open.
const DefaultMaxWriteSize = 4087

// Endpoint is the daemon's record of one endpoint.
type Endpoint struct {
	// ID is the endpoint ID.
	ID uint8

	// State is the daemon's view of the endpoint.
	State wire.EndpointState

	// SocketSize is the last forwarded socket size option.
	SocketSize uint32

	// Written holds every payload the client wrote, in order.
	Written [][]byte
}

// DaemonHandlers holds callbacks for daemon operations.
type DaemonHandlers struct {
	// OnWrite is called after a write is recorded, before it is acknowledged.
	OnWrite func(id uint8, data []byte)

	// AfterOpen returns events sent on the same connection right behind a
	// successful open reply, with no gap for the client to react.
	AfterOpen func(id uint8) []wire.Event
}

type heldAck struct {
	conn transport.MessageSender
	resp wire.Response
}

// Daemon is a scriptable stand-in for the CPC daemon.
type Daemon struct {
	// Path is the control socket path.
	Path string

	// Version is announced in the Hello response (default: version.Current).
	Version string

	// MaxWriteSize is announced on Open (default: DefaultMaxWriteSize).
	MaxWriteSize uint32

	// Handlers are callbacks for daemon operations.
	Handlers DaemonHandlers

	// Logger receives the server's transport trace (optional).
	Logger log.Logger

	server *transport.Server

	mu        sync.RWMutex
	endpoints map[uint8]*Endpoint
	rejected  map[uint8]bool
	requests  []wire.Request
	holdAcks  bool
	held      []heldAck
	hung      bool
	hellos    int
}

// NewDaemon creates a daemon double listening on path once started.
func NewDaemon(path string) *Daemon {
	return &Daemon{
		Path:         path,
		Version:      version.Current,
		MaxWriteSize: DefaultMaxWriteSize,
		endpoints:    make(map[uint8]*Endpoint),
		rejected:     make(map[uint8]bool),
	}
}

// SocketPath returns a fresh socket path short enough for sun_path and
// removes its directory when the test ends.
func SocketPath(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cpcd")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctrl.cpcd.sock")
}

// StartDaemon starts a daemon double on a fresh path and stops it when the
// test ends.
func StartDaemon(t testing.TB) *Daemon {
	t.Helper()
	d := NewDaemon(SocketPath(t))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

// Start begins accepting connections.
func (d *Daemon) Start(ctx context.Context) error {
	srv, err := transport.NewServer(transport.ServerConfig{
		Path:         d.Path,
		Logger:       d.Logger,
		OnMessage:    d.handleMessage,
		OnDisconnect: d.handleDisconnect,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.server = srv
	d.hung = false
	d.mu.Unlock()
	return nil
}

// Stop drops every connection without a close handshake, like a crash.
func (d *Daemon) Stop() {
	d.mu.Lock()
	srv := d.server
	d.server = nil
	d.mu.Unlock()

	if srv != nil {
		srv.Stop()
	}
}

// Restart simulates the supervisor bringing the daemon back on the same
// path with no endpoint state.
func (d *Daemon) Restart(ctx context.Context) error {
	d.Stop()

	d.mu.Lock()
	d.endpoints = make(map[uint8]*Endpoint)
	d.held = nil
	d.holdAcks = false
	d.mu.Unlock()

	return d.Start(ctx)
}

// Shutdown announces an orderly close to every client, then stops.
func (d *Daemon) Shutdown() {
	d.mu.RLock()
	srv := d.server
	d.mu.RUnlock()
	if srv != nil {
		for _, c := range srv.Connections() {
			c.SendClose()
		}
	}
	d.Stop()
}

// SetHung makes the daemon ignore pings and requests while keeping the
// socket open.
func (d *Daemon) SetHung(hung bool) {
	d.mu.Lock()
	d.hung = hung
	srv := d.server
	d.mu.Unlock()
	if srv != nil {
		srv.SetAnswerPings(!hung)
	}
}

// Reject makes future Open requests for id fail.
func (d *Daemon) Reject(id uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejected[id] = true
}

// HoldAcks delays write acknowledgements until ReleaseAcks.
func (d *Daemon) HoldAcks(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdAcks = hold
}

// ReleaseAcks sends every held write acknowledgement.
func (d *Daemon) ReleaseAcks() {
	d.mu.Lock()
	held := d.held
	d.held = nil
	d.mu.Unlock()

	for _, h := range held {
		d.reply(h.conn, h.resp)
	}
}

// HeldAcks returns the number of acknowledgements being held.
func (d *Daemon) HeldAcks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.held)
}

// Endpoint returns a copy of the daemon's record for id.
func (d *Daemon) Endpoint(id uint8) (Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.endpoints[id]
	if !ok {
		return Endpoint{}, false
	}
	out := *ep
	out.Written = append([][]byte(nil), ep.Written...)
	return out, true
}

// Written returns the payloads written to id.
func (d *Daemon) Written(id uint8) [][]byte {
	ep, _ := d.Endpoint(id)
	return ep.Written
}

// WaitWritten waits until at least n payloads were written to id.
func (d *Daemon) WaitWritten(id uint8, n int, timeout time.Duration) ([][]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		w := d.Written(id)
		if len(w) >= n {
			return w, nil
		}
		if time.Now().After(deadline) {
			return w, fmt.Errorf("endpoint %d: %d writes, want %d", id, len(w), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Requests returns every request received so far.
func (d *Daemon) Requests() []wire.Request {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]wire.Request(nil), d.requests...)
}

// Hellos returns the number of handshakes served.
func (d *Daemon) Hellos() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hellos
}

// ConnectionCount returns the number of connected clients.
func (d *Daemon) ConnectionCount() int {
	d.mu.RLock()
	srv := d.server
	d.mu.RUnlock()
	if srv == nil {
		return 0
	}
	return srv.ConnectionCount()
}

// PushState moves an endpoint to state and notifies every client.
func (d *Daemon) PushState(id uint8, state wire.EndpointState) error {
	d.mu.Lock()
	ep := d.endpointLocked(id)
	ep.State = state
	d.mu.Unlock()

	return d.broadcast(&wire.Event{Type: wire.EventStateChanged, EndpointID: id, State: state})
}

// Send delivers one payload from the secondary to the client on id.
func (d *Daemon) Send(id uint8, data []byte) error {
	d.mu.RLock()
	ep, ok := d.endpoints[id]
	open := ok && ep.State == wire.StateOpen
	d.mu.RUnlock()
	if !open {
		return fmt.Errorf("%w: %d", ErrEndpointNotOpen, id)
	}

	return d.broadcast(&wire.Event{Type: wire.EventData, EndpointID: id, Data: data})
}

func (d *Daemon) broadcast(ev *wire.Event) error {
	data, err := wire.EncodeEvent(ev)
	if err != nil {
		return err
	}

	d.mu.RLock()
	srv := d.server
	d.mu.RUnlock()
	if srv == nil {
		return ErrNotRunning
	}

	conns := srv.Connections()
	if len(conns) == 0 {
		return ErrNoClient
	}
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) endpointLocked(id uint8) *Endpoint {
	ep, ok := d.endpoints[id]
	if !ok {
		ep = &Endpoint{ID: id, State: wire.StateClosed}
		d.endpoints[id] = ep
	}
	return ep
}

func (d *Daemon) handleDisconnect(*transport.ServerConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ep := range d.endpoints {
		if ep.State == wire.StateOpen {
			ep.State = wire.StateClosed
		}
	}
}

func (d *Daemon) handleMessage(conn *transport.ServerConn, data []byte) {
	req, err := wire.DecodeRequest(data)
	if err != nil {
		return
	}

	d.mu.Lock()
	d.requests = append(d.requests, *req)
	if d.hung {
		d.mu.Unlock()
		return
	}

	resp := wire.Response{MessageID: req.MessageID, EndpointID: req.EndpointID, Status: wire.StatusSuccess}
	var written []byte
	opened := false

	switch req.Operation {
	case wire.OpHello:
		d.hellos++
		resp.Version = d.Version
		if peer, err := version.Parse(req.Version); err != nil || !version.MustParse(d.Version).Compatible(peer) {
			resp.Status = wire.StatusVersionMismatch
		}

	case wire.OpOpen:
		ep := d.endpointLocked(req.EndpointID)
		switch {
		case d.rejected[req.EndpointID]:
			resp.Status = wire.StatusRejected
		case ep.State == wire.StateOpen:
			resp.Status = wire.StatusBusy
		default:
			ep.State = wire.StateOpen
			ep.Written = nil
			resp.MaxWriteSize = d.MaxWriteSize
			opened = true
		}

	case wire.OpClose:
		d.endpointLocked(req.EndpointID).State = wire.StateClosed

	case wire.OpGetState:
		resp.State = d.endpointLocked(req.EndpointID).State

	case wire.OpSetOption:
		d.endpointLocked(req.EndpointID).SocketSize = req.Value

	case wire.OpWrite:
		ep := d.endpointLocked(req.EndpointID)
		if ep.State != wire.StateOpen {
			resp.Status = statusFor(ep.State)
			break
		}
		written = append([]byte(nil), req.Data...)
		ep.Written = append(ep.Written, written)
		if d.holdAcks {
			d.held = append(d.held, heldAck{conn: conn, resp: resp})
			d.mu.Unlock()
			d.notifyWrite(req.EndpointID, written)
			return
		}
	}
	d.mu.Unlock()

	if written != nil {
		d.notifyWrite(req.EndpointID, written)
	}
	d.reply(conn, resp)

	if opened && d.Handlers.AfterOpen != nil {
		d.follow(conn, req.EndpointID, d.Handlers.AfterOpen(req.EndpointID))
	}
}

// follow sends events behind an open reply, applying state changes to the
// daemon's own view first.
func (d *Daemon) follow(conn transport.MessageSender, id uint8, events []wire.Event) {
	for _, ev := range events {
		ev.EndpointID = id
		if ev.Type == wire.EventStateChanged {
			d.mu.Lock()
			d.endpointLocked(id).State = ev.State
			d.mu.Unlock()
		}
		data, err := wire.EncodeEvent(&ev)
		if err != nil {
			return
		}
		if err := conn.Send(data); err != nil {
			return
		}
	}
}

func (d *Daemon) notifyWrite(id uint8, data []byte) {
	if d.Handlers.OnWrite != nil {
		d.Handlers.OnWrite(id, data)
	}
}

func (d *Daemon) reply(conn transport.MessageSender, resp wire.Response) {
	data, err := wire.EncodeResponse(&resp)
	if err != nil {
		return
	}
	conn.Send(data)
}

func statusFor(state wire.EndpointState) wire.Status {
	switch state {
	case wire.StateErrorDestinationUnreachable:
		return wire.StatusDestinationUnreachable
	case wire.StateErrorSecurityIncident:
		return wire.StatusSecurityIncident
	case wire.StateErrorFault:
		return wire.StatusFault
	default:
		return wire.StatusNotOpen
	}
}
