// Package config loads client settings from YAML files and the
// environment and turns them into a cpc.Config.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cpc-host/cpc-go/pkg/connection"
	"github.com/cpc-host/cpc-go/pkg/cpc"
	plog "github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/transport"
)

// Environment variables that override file settings.
const (
	EnvInstance   = "CPC_INSTANCE"
	EnvSocketPath = "CPC_SOCKET_PATH"
	EnvTracing    = "CPC_TRACING"
)

// File is the on-disk configuration.
type File struct {
	InstanceName   string         `yaml:"instance_name"`
	SocketPath     string         `yaml:"socket_path"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	KeepAlive      KeepAlive      `yaml:"keepalive"`
	RestartBackoff RestartBackoff `yaml:"restart_backoff"`
	Tracing        bool           `yaml:"tracing"`
	TraceFile      string         `yaml:"trace_file"`

	// TraceSplitGenerations writes each session generation to its own
	// trace file next to TraceFile.
	TraceSplitGenerations bool `yaml:"trace_split_generations"`
}

// KeepAlive configures daemon liveness detection.
type KeepAlive struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
	Disabled       bool          `yaml:"disabled"`
}

// RestartBackoff paces reconnect attempts.
type RestartBackoff struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	// File is the path to the file that failed to load (empty for bytes).
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return "config: " + msg
	}
	return "config: " + e.File + ": " + msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns the settings used when no file is given.
func Default() *File {
	return &File{
		InstanceName:   cpc.DefaultInstanceName,
		ConnectTimeout: cpc.DefaultConnectTimeout,
		RequestTimeout: cpc.DefaultRequestTimeout,
		KeepAlive: KeepAlive{
			PingInterval:   transport.DefaultPingInterval,
			PongTimeout:    transport.DefaultPongTimeout,
			MaxMissedPongs: transport.DefaultMaxMissedPongs,
		},
		RestartBackoff: RestartBackoff{
			Initial: connection.InitialBackoff,
			Max:     connection.MaxBackoff,
		},
	}
}

// Parse parses YAML bytes on top of the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads a configuration file and applies environment overrides.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	f, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}

	if err := f.ApplyEnv(os.LookupEnv); err != nil {
		return nil, &LoadError{File: path, Message: "bad environment override", Cause: err}
	}
	return f, nil
}

// ApplyEnv applies CPC_INSTANCE, CPC_SOCKET_PATH and CPC_TRACING.
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvInstance); ok && v != "" {
		f.InstanceName = v
	}
	if v, ok := lookup(EnvSocketPath); ok && v != "" {
		f.SocketPath = v
	}
	if v, ok := lookup(EnvTracing); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTracing, err)
		}
		f.Tracing = b
	}
	return nil
}

// Validate checks the settings for values the client cannot use.
func (f *File) Validate() error {
	switch {
	case f.InstanceName == "" && f.SocketPath == "":
		return &LoadError{Message: "instance_name or socket_path is required"}
	case f.ConnectTimeout < 0:
		return &LoadError{Message: "connect_timeout must not be negative"}
	case f.RequestTimeout < 0:
		return &LoadError{Message: "request_timeout must not be negative"}
	case f.KeepAlive.PingInterval < 0 || f.KeepAlive.PongTimeout < 0:
		return &LoadError{Message: "keepalive intervals must not be negative"}
	case f.KeepAlive.MaxMissedPongs < 0:
		return &LoadError{Message: "keepalive.max_missed_pongs must not be negative"}
	case f.RestartBackoff.Initial < 0 || f.RestartBackoff.Max < 0:
		return &LoadError{Message: "restart_backoff delays must not be negative"}
	case f.RestartBackoff.Max > 0 && f.RestartBackoff.Max < f.RestartBackoff.Initial:
		return &LoadError{Message: "restart_backoff.max is below restart_backoff.initial"}
	}
	return nil
}

// SessionConfig builds a cpc.Config. If trace_file is set the returned
// closer flushes and closes it; otherwise closing is a no-op.
func (f *File) SessionConfig(logger *slog.Logger) (cpc.Config, io.Closer, error) {
	cfg := cpc.DefaultConfig()
	cfg.InstanceName = f.InstanceName
	cfg.SocketPath = f.SocketPath
	cfg.ConnectTimeout = f.ConnectTimeout
	cfg.RequestTimeout = f.RequestTimeout
	cfg.KeepAlive = transport.KeepAliveConfig{
		PingInterval:   f.KeepAlive.PingInterval,
		PongTimeout:    f.KeepAlive.PongTimeout,
		MaxMissedPongs: f.KeepAlive.MaxMissedPongs,
		Disabled:       f.KeepAlive.Disabled,
	}
	cfg.RestartBackoff.Initial = f.RestartBackoff.Initial
	cfg.RestartBackoff.Max = f.RestartBackoff.Max
	cfg.Logger = logger
	cfg.Tracing = f.Tracing

	if f.TraceFile == "" {
		return cfg, nopCloser{}, nil
	}
	fl, err := plog.NewFileLoggerWithOptions(f.TraceFile, plog.FileLoggerOptions{
		SplitGenerations: f.TraceSplitGenerations,
	})
	if err != nil {
		return cpc.Config{}, nil, &LoadError{File: f.TraceFile, Message: "failed to open trace file", Cause: err}
	}
	cfg.ProtocolLogger = fl
	return cfg, fl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
