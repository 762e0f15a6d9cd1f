package cpc

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cpc-host/cpc-go/pkg/connection"
	plog "github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/transport"
)

// Session defaults.
const (
	// DefaultInstanceName is the daemon instance used when none is configured.
	DefaultInstanceName = "cpcd_0"

	// DefaultSocketDir is where daemon instances create their sockets.
	DefaultSocketDir = "/dev/shm/cpcd"

	// DefaultConnectTimeout bounds dialing and the Hello handshake.
	DefaultConnectTimeout = 2 * time.Second

	// DefaultRequestTimeout bounds each control request.
	DefaultRequestTimeout = 5 * time.Second
)

// Config configures a Session.
type Config struct {
	// InstanceName selects the daemon instance (default: cpcd_0).
	InstanceName string

	// SocketPath overrides the control socket path derived from InstanceName.
	SocketPath string

	// ConnectTimeout bounds dialing and the handshake.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each control request.
	RequestTimeout time.Duration

	// KeepAlive configures daemon liveness detection.
	KeepAlive transport.KeepAliveConfig

	// RestartBackoff paces RestartWithBackoff.
	RestartBackoff connection.BackoffConfig

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives wire and session trace events (optional).
	ProtocolLogger plog.Logger

	// Tracing mirrors trace events to Logger at debug level.
	Tracing bool

	// Dialer opens the control connection (default: transport.Dial).
	Dialer Dialer
}

// Dialer opens a control connection to the daemon.
type Dialer interface {
	Dial(ctx context.Context, path string, cfg transport.ConnConfig, handler transport.ConnHandler) (*transport.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, path string, cfg transport.ConnConfig, handler transport.ConnHandler) (*transport.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, path string, cfg transport.ConnConfig, handler transport.ConnHandler) (*transport.Conn, error) {
	return f(ctx, path, cfg, handler)
}

// DefaultConfig returns the default configuration for instance cpcd_0.
func DefaultConfig() Config {
	return Config{
		InstanceName:   DefaultInstanceName,
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		KeepAlive:      transport.DefaultKeepAliveConfig(),
		RestartBackoff: connection.BackoffConfig{
			Initial: connection.InitialBackoff,
			Max:     connection.MaxBackoff,
			Jitter:  connection.JitterFactor,
		},
	}
}

// DefaultSocketPath returns the control socket path of a daemon instance.
func DefaultSocketPath(instance string) string {
	if instance == "" {
		instance = DefaultInstanceName
	}
	return filepath.Join(DefaultSocketDir, instance, "ctrl.cpcd.sock")
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.InstanceName == "" {
		c.InstanceName = DefaultInstanceName
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath(c.InstanceName)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Dialer == nil {
		c.Dialer = DialerFunc(transport.Dial)
	}
	return c
}

// traceLogger combines ProtocolLogger with the slog mirror, or returns nil.
func (c Config) traceLogger() plog.Logger {
	var loggers []plog.Logger
	if c.ProtocolLogger != nil {
		loggers = append(loggers, c.ProtocolLogger)
	}
	if c.Tracing && c.Logger != nil {
		loggers = append(loggers, plog.NewSlogAdapter(c.Logger))
	}
	switch len(loggers) {
	case 0:
		return nil
	case 1:
		return loggers[0]
	}
	return plog.NewMultiLogger(loggers...)
}
