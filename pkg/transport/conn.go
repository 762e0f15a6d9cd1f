package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/wire"
)

// ConnState is the lifecycle state of a control connection.
type ConnState int32

const (
	// StateConnected indicates an active connection.
	StateConnected ConnState = iota

	// StateClosing indicates a local close in progress.
	StateClosing

	// StateDisconnected indicates the socket is gone.
	StateDisconnected
)

// String returns the connection state name.
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected    = errors.New("not connected")
	ErrKeepAliveFailed = errors.New("keep-alive timeout")
	ErrPeerClosed      = errors.New("peer closed the connection")
)

// ConnConfig configures a control connection.
type ConnConfig struct {
	// MaxMessageSize bounds a single frame (default: 64KB).
	MaxMessageSize uint32

	// KeepAlive configures hung-peer detection.
	KeepAlive KeepAliveConfig

	// WriteTimeout bounds a single frame write (0 = no timeout).
	WriteTimeout time.Duration

	// Logger receives transport trace events (optional).
	Logger log.Logger
}

// DefaultConnConfig returns the default connection configuration.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxMessageSize: DefaultMaxMessageSize,
		KeepAlive:      DefaultKeepAliveConfig(),
		WriteTimeout:   5 * time.Second,
	}
}

// ConnHandler receives traffic and loss notifications from a Conn.
type ConnHandler interface {
	// OnMessage is called from the read loop for every non-control frame.
	OnMessage(msg []byte)

	// OnClose is called at most once when the connection is lost without a
	// local Close. It runs on the read loop or keep-alive goroutine and must
	// not block.
	OnClose(err error)
}

// Conn is the library side of a control connection to the daemon.
type Conn struct {
	config  ConnConfig
	handler ConnHandler

	conn   net.Conn
	framer *Framer
	path   string
	connID string

	keepAlive *KeepAlive

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

// Dial connects to the daemon's control socket and starts the read loop and
// keep-alive. The handler may receive messages before Dial returns.
func Dial(ctx context.Context, path string, config ConnConfig, handler ConnHandler) (*Conn, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	return newConn(nc, path, config, handler), nil
}

func newConn(nc net.Conn, path string, config ConnConfig, handler ConnHandler) *Conn {
	c := &Conn{
		config:  config,
		handler: handler,
		conn:    nc,
		path:    path,
		connID:  uuid.New().String(),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))

	c.framer = NewFramerWithMaxSize(nc, config.MaxMessageSize)
	if config.Logger != nil {
		c.framer.SetLogger(config.Logger, c.connID)
	}
	c.traceState("", StateConnected.String(), "")

	var ctx context.Context
	ctx, c.cancel = context.WithCancel(context.Background())

	if !config.KeepAlive.Disabled {
		c.keepAlive = NewKeepAlive(config.KeepAlive,
			func(seq uint32) error {
				c.traceControl(wire.ControlPing, seq, log.DirectionOut)
				return c.SendControlMessage(wire.ControlPing, seq)
			},
			func() {
				c.lost(ErrKeepAliveFailed)
			},
		)
		c.keepAlive.Start(ctx)
	}

	go c.readLoop()
	return c
}

// ConnID returns the unique identifier of this connection.
func (c *Conn) ConnID() string {
	return c.connID
}

// Path returns the socket path this connection was dialed on.
func (c *Conn) Path() string {
	return c.path
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Done is closed when the read loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes one message frame.
func (c *Conn) Send(data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendControlMessage sends a ping, pong or close.
func (c *Conn) SendControlMessage(typ wire.ControlMessageType, seq uint32) error {
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: typ, Sequence: seq})
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	return c.Send(data)
}

// Close sends a close control message and closes the socket. The handler's
// OnClose is not called for a local close.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return nil
	}
	c.traceState(StateConnected.String(), StateClosing.String(), "local close")

	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlClose})
	if err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		c.framer.WriteFrame(data)
	}

	c.teardown()
	c.state.Store(int32(StateDisconnected))
	c.traceState(StateClosing.String(), StateDisconnected.String(), "local close")
	<-c.done
	return nil
}

// ForceClose drops the socket without the close handshake and without
// calling OnClose.
func (c *Conn) ForceClose() {
	prev := ConnState(c.state.Swap(int32(StateDisconnected)))
	if prev == StateDisconnected {
		return
	}
	c.teardown()
	c.traceState(prev.String(), StateDisconnected.String(), "forced")
}

// lost reports an unexpected loss exactly once.
func (c *Conn) lost(err error) {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	c.teardown()
	c.traceState(StateConnected.String(), StateDisconnected.String(), err.Error())
	if c.handler != nil {
		c.handler.OnClose(err)
	}
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		c.cancel()
		c.conn.Close()
	})
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if c.State() != StateConnected {
				return
			}
			c.lost(fmt.Errorf("read: %w", err))
			return
		}

		if kind, err := wire.PeekKind(data); err == nil && kind == wire.KindControl {
			if msg, err := wire.DecodeControlMessage(data); err == nil {
				if c.handleControlMessage(msg) {
					return
				}
				continue
			}
		}

		if c.handler != nil {
			c.handler.OnMessage(data)
		}
	}
}

// handleControlMessage processes a control message and reports whether the
// read loop should stop.
func (c *Conn) handleControlMessage(msg *wire.ControlMessage) bool {
	c.traceControl(msg.Type, msg.Sequence, log.DirectionIn)

	switch msg.Type {
	case wire.ControlPing:
		c.SendControlMessage(wire.ControlPong, msg.Sequence)
	case wire.ControlPong:
		if c.keepAlive != nil {
			c.keepAlive.PongReceived(msg.Sequence)
		}
	case wire.ControlClose:
		c.lost(ErrPeerClosed)
		return true
	}
	return false
}

func (c *Conn) traceState(oldState, newState, reason string) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.path,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *Conn) traceControl(typ wire.ControlMessageType, seq uint32, dir log.Direction) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   c.path,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, Sequence: seq},
	})
}
