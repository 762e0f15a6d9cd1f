package transport

import (
	"context"
	"net"
)

// MessageSender sends framed messages to the peer.
// Implemented by Conn and ServerConn.
type MessageSender interface {
	Send(data []byte) error
}

// TransportServer represents a control-socket server.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all connections.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ MessageSender   = (*Conn)(nil)
	_ MessageSender   = (*ServerConn)(nil)
	_ TransportServer = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
