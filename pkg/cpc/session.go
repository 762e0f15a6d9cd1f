package cpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"

	"github.com/cpc-host/cpc-go/pkg/connection"
	plog "github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/transport"
	"github.com/cpc-host/cpc-go/pkg/version"
	"github.com/cpc-host/cpc-go/pkg/wire"
)

// fallbackMaxWriteSize is used when the daemon does not announce a limit.
const fallbackMaxWriteSize = 4087

// ResetFunc is called once per lost generation from a library goroutine.
// It must only record the event and return.
type ResetFunc func(generation uint32)

// Socket paths with a live Session in this process.
var (
	activeMu    sync.Mutex
	activePaths = make(map[string]struct{})
)

func claimPath(path string) bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	if _, ok := activePaths[path]; ok {
		return false
	}
	activePaths[path] = struct{}{}
	return true
}

func releasePath(path string) {
	activeMu.Lock()
	defer activeMu.Unlock()
	delete(activePaths, path)
}

// Session is a connection to one daemon instance and the endpoints opened
// through it. It is safe for concurrent use.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	trace   plog.Logger
	onReset ResetFunc

	// gen is the current generation; lostGen is the latest lost one.
	// The current generation is lost when lostGen == gen.
	gen     atomix.Uint32
	lostGen atomic.Uint32

	mu     sync.Mutex // guards link and closed; never held across a wait
	link   *link
	closed bool

	restartMu sync.Mutex // serializes Restart and Close

	reg registry

	lossCh  chan uint32
	resetCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	handledMu   sync.Mutex
	handledCond *sync.Cond
	handledGen  uint32
}

// Init connects to the daemon and returns a Session at generation 1.
// onReset may be nil.
func Init(ctx context.Context, cfg Config, onReset ResetFunc) (*Session, error) {
	cfg = cfg.withDefaults()
	if !claimPath(cfg.SocketPath) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, cfg.SocketPath)
	}

	s := &Session{
		cfg:     cfg,
		trace:   cfg.traceLogger(),
		onReset: onReset,
		lossCh:  make(chan uint32, 1),
		resetCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	s.handledCond = sync.NewCond(&s.handledMu)
	if cfg.Logger != nil {
		s.logger = cfg.Logger.With("component", "cpc")
	}

	l, err := s.connect(ctx, 1)
	if err != nil {
		releasePath(cfg.SocketPath)
		s.warnLog("cpc session init failed", "socket", cfg.SocketPath, "error", err)
		return nil, err
	}

	go s.watch()
	s.install(l)

	s.infoLog("cpc session established",
		"socket", cfg.SocketPath,
		"generation", l.gen,
		"connID", l.connID())
	s.traceState(l.gen, nil, "", "CONNECTED", "init")
	return s, nil
}

// connect dials the daemon and performs the Hello handshake for gen.
func (s *Session) connect(ctx context.Context, gen uint32) (*link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	connCfg := transport.DefaultConnConfig()
	connCfg.KeepAlive = s.cfg.KeepAlive
	connCfg.Logger = s.trace

	l := newLink(s, gen)
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.SocketPath, connCfg, l)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	l.conn.Store(conn)

	resp, err := l.request(ctx, &wire.Request{
		Operation: wire.OpHello,
		Version:   version.Current,
		PID:       os.Getpid(),
	})
	if err != nil {
		conn.ForceClose()
		return nil, fmt.Errorf("%w: handshake: %v", ErrDaemonUnavailable, err)
	}

	if resp.Status == wire.StatusVersionMismatch {
		conn.ForceClose()
		return nil, fmt.Errorf("%w: daemon speaks %s, library speaks %s", ErrVersionMismatch, resp.Version, version.Current)
	}
	if !resp.IsSuccess() {
		conn.ForceClose()
		return nil, fmt.Errorf("%w: handshake refused: %s", ErrDaemonUnavailable, resp.Status)
	}
	if _, err := version.CheckPeer(resp.Version); err != nil {
		conn.ForceClose()
		return nil, fmt.Errorf("%w: %v", ErrVersionMismatch, err)
	}

	s.debugLog("cpc handshake complete", "generation", gen, "daemonVersion", resp.Version)
	return l, nil
}

// install makes l the current link and advances the generation to l.gen.
func (s *Session) install(l *link) {
	s.mu.Lock()
	s.link = l
	s.gen.Add(1)
	l.installed.Store(true)
	s.mu.Unlock()

	// The connection may have died between the handshake and installation.
	if l.dead.Load() {
		s.connectionLost(l.gen)
	}
}

// Restart reconnects after the daemon was lost and starts a new
// generation. Handles of earlier generations stay stale; reopen the
// endpoints you need. On failure the session stays lost and Restart can be
// called again.
func (s *Session) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.gen.Load()
	oldLink := s.link
	s.mu.Unlock()

	s.retire(old, oldLink, fmt.Errorf("%w: restarted", errLinkDown))

	l, err := s.connect(ctx, old+1)
	if err != nil {
		s.warnLog("cpc restart failed", "generation", old, "error", err)
		s.traceError(old, err.Error(), "restart")
		if errors.Is(err, ErrDaemonUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
	}

	s.install(l)
	s.infoLog("cpc session restarted", "generation", l.gen, "connID", l.connID())
	s.traceState(l.gen, nil, "LOST", "CONNECTED", "restart")
	return nil
}

// RestartWithBackoff calls Restart until it succeeds, pacing attempts with
// Config.RestartBackoff. It gives up on ctx, a closed session or an
// incompatible daemon.
func (s *Session) RestartWithBackoff(ctx context.Context) error {
	b := connection.NewBackoffWithConfig(s.cfg.RestartBackoff)
	return connection.Retry(ctx, b, func(ctx context.Context) error {
		err := s.Restart(ctx)
		if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrVersionMismatch) {
			return connection.Permanent(err)
		}
		if err != nil {
			s.debugLog("cpc restart attempt failed", "attempt", b.Attempts()+1, "error", err)
		}
		return err
	})
}

// retire ends generation gen: it marks it lost (or waits for the watcher
// to finish handling a detected loss), invalidates its endpoints and drops
// its connection.
func (s *Session) retire(gen uint32, l *link, cause error) {
	if s.markLost(gen) {
		s.markHandled(gen)
	} else {
		s.waitHandled(gen)
	}
	s.reg.invalidate(gen)
	if l != nil {
		l.installed.Store(false)
		if c := l.conn.Load(); c != nil {
			c.ForceClose()
		}
		l.failAll(cause)
	}
}

// Close disconnects from the daemon. Every handle becomes unusable and the
// socket path is free for a new Init. Close must not be called from a
// ResetFunc.
func (s *Session) Close() error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.closed = true
	gen := s.gen.Load()
	l := s.link
	s.mu.Unlock()

	if s.markLost(gen) {
		s.markHandled(gen)
	} else {
		s.waitHandled(gen)
	}
	s.reg.invalidate(gen)

	var err error
	if l != nil {
		l.installed.Store(false)
		if c := l.conn.Load(); c != nil {
			err = c.Close()
		}
		l.failAll(ErrSessionClosed)
	}

	close(s.stopCh)
	<-s.doneCh
	releasePath(s.cfg.SocketPath)

	s.infoLog("cpc session closed", "socket", s.cfg.SocketPath, "generation", gen)
	s.traceState(gen, nil, "CONNECTED", "CLOSED", "close")
	if err != nil {
		s.debugLog("cpc close: connection close failed", "error", err)
	}
	if err := plog.Flush(s.trace); err != nil {
		s.warnLog("cpc close: trace flush failed", "error", err)
	}
	return nil
}

// Generation returns the current generation. It starts at 1 and grows by
// one on every successful Restart.
func (s *Session) Generation() uint32 {
	return s.gen.Load()
}

// Lost reports whether the current generation's daemon connection is gone.
func (s *Session) Lost() bool {
	return s.lostGen.Load() == s.gen.Load()
}

// ResetNotify returns a channel that receives a value when a generation is
// lost. Losses that happen while a value is pending are coalesced.
func (s *Session) ResetNotify() <-chan struct{} {
	return s.resetCh
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// current returns the link of a healthy current generation.
func (s *Session) current() (*link, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, ErrSessionClosed
	}
	gen := s.gen.Load()
	if s.lostGen.Load() >= gen {
		return nil, 0, fmt.Errorf("%w: generation %d lost", ErrDaemonUnavailable, gen)
	}
	return s.link, gen, nil
}

// linkFor returns the link of gen if gen is current and healthy.
func (s *Session) linkFor(gen uint32) (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if gen != s.gen.Load() || s.lostGen.Load() >= gen {
		return nil, ErrStaleHandle
	}
	return s.link, nil
}

// requestErr maps a failed session-level request.
func (s *Session) requestErr(err error) error {
	if errors.Is(err, ErrSessionClosed) || s.isClosed() {
		return ErrSessionClosed
	}
	if errors.Is(err, errLinkDown) {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return err
}

// Open opens endpoint id with the given transmit window, which must be 1.
func (s *Session) Open(ctx context.Context, id EndpointID, windowSize int) (*Endpoint, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEndpointID, uint8(id))
	}
	if windowSize != 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindowSize, windowSize)
	}

	l, gen, err := s.current()
	if err != nil {
		return nil, err
	}

	rec, err := s.reg.reserve(id, gen)
	if err != nil {
		return nil, err
	}

	// The record goes OPEN on the read loop, before any event that follows
	// the reply is dispatched to it.
	req := &wire.Request{
		Operation:  wire.OpOpen,
		EndpointID: uint8(id),
		WindowSize: uint8(windowSize),
	}
	c, err := l.start(req, func(resp *wire.Response) {
		if !resp.IsSuccess() {
			return
		}
		if rec.activate(maxWriteSize(resp)) {
			s.traceState(gen, &id, StateClosed.String(), StateOpen.String(), "open")
		}
	})
	if err != nil {
		s.reg.release(rec)
		return nil, s.requestErr(err)
	}

	resp, err := l.await(ctx, c, req)
	if err != nil {
		s.reg.release(rec)
		return nil, s.requestErr(err)
	}
	if !resp.IsSuccess() {
		s.reg.release(rec)
		s.debugLog("cpc open refused", "endpoint", id, "status", resp.Status)
		return nil, statusError(id, wire.OpOpen, resp)
	}
	if rec.isInvalidated() {
		return nil, fmt.Errorf("%w: generation %d lost during open", ErrDaemonUnavailable, gen)
	}

	s.debugLog("cpc endpoint opened", "endpoint", id, "generation", gen, "maxWriteSize", maxWriteSize(resp))
	return &Endpoint{sess: s, rec: rec, gen: gen}, nil
}

// maxWriteSize returns the payload limit announced in an open reply.
func maxWriteSize(resp *wire.Response) int {
	if resp.MaxWriteSize == 0 {
		return fallbackMaxWriteSize
	}
	return int(resp.MaxWriteSize)
}

// State asks the daemon for the state of endpoint id.
func (s *Session) State(ctx context.Context, id EndpointID) (State, error) {
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEndpointID, uint8(id))
	}

	l, _, err := s.current()
	if err != nil {
		return 0, err
	}

	resp, err := l.request(ctx, &wire.Request{
		Operation:  wire.OpGetState,
		EndpointID: uint8(id),
	})
	if err != nil {
		return 0, s.requestErr(err)
	}
	if !resp.IsSuccess() {
		return 0, statusError(id, wire.OpGetState, resp)
	}
	return stateFromWire(resp.State), nil
}

// handleEvent applies a daemon event. Runs on the read loop of gen's link.
func (s *Session) handleEvent(gen uint32, ev *wire.Event) {
	if gen != s.gen.Load() {
		return
	}

	id := EndpointID(ev.EndpointID)
	rec := s.reg.lookup(id, gen)
	if rec == nil {
		s.debugLog("cpc event for unknown endpoint", "endpoint", id, "type", ev.Type)
		return
	}

	switch ev.Type {
	case wire.EventData:
		if !rec.deliver(ev.Data) {
			s.debugLog("cpc dropped data for endpoint not open", "endpoint", id, "size", len(ev.Data))
		}

	case wire.EventStateChanged:
		next := stateFromWire(ev.State)
		prev, changed := rec.transition(next)
		if !changed {
			return
		}
		if next.IsError() {
			s.warnLog("cpc endpoint failed", "endpoint", id, "generation", gen, "state", next)
		} else {
			s.debugLog("cpc endpoint state changed", "endpoint", id, "from", prev, "to", next)
		}
		s.traceState(gen, &id, prev.String(), next.String(), "daemon event")

	default:
		s.debugLog("cpc unknown event type", "endpoint", id, "type", ev.Type)
	}
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Session) infoLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Session) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
