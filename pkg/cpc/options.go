package cpc

import (
	"context"
	"fmt"
	"time"

	"github.com/cpc-host/cpc-go/pkg/wire"
)

// Option identifies a per-endpoint option.
type Option uint8

// Endpoint options.
const (
	OptionNone         = Option(wire.OptionNone)
	OptionBlocking     = Option(wire.OptionBlocking)
	OptionRxTimeout    = Option(wire.OptionRxTimeout)
	OptionTxTimeout    = Option(wire.OptionTxTimeout)
	OptionSocketSize   = Option(wire.OptionSocketSize)
	OptionMaxWriteSize = Option(wire.OptionMaxWriteSize)
)

// Encoded option sizes reported by GetOption.
const (
	sizeBool    = 1
	sizeTimeval = 16
	sizeInt     = 4
	sizeSizeT   = 8
)

// DefaultSocketSize is the socket size reported before SetSocketSize.
const DefaultSocketSize = 4096

// String returns the option name.
func (o Option) String() string {
	return wire.Option(o).String()
}

// Size returns the encoded size of the option value, or 0 for OptionNone
// and unknown options.
func (o Option) Size() int {
	switch o {
	case OptionBlocking:
		return sizeBool
	case OptionRxTimeout, OptionTxTimeout:
		return sizeTimeval
	case OptionSocketSize:
		return sizeInt
	case OptionMaxWriteSize:
		return sizeSizeT
	}
	return 0
}

// optionStore holds the option values of one endpoint. Guarded by the
// owning record's mutex.
type optionStore struct {
	blocking     bool
	rxTimeout    time.Duration
	txTimeout    time.Duration
	socketSize   int
	maxWriteSize int
}

func newOptionStore(maxWriteSize int) optionStore {
	return optionStore{
		blocking:     true,
		socketSize:   DefaultSocketSize,
		maxWriteSize: maxWriteSize,
	}
}

// validate checks that value has the right shape for kind.
func (o Option) validate(value any) error {
	switch o {
	case OptionBlocking:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s wants bool, got %T", ErrInvalidOptionValue, o, value)
		}
	case OptionRxTimeout, OptionTxTimeout:
		d, ok := value.(time.Duration)
		if !ok {
			return fmt.Errorf("%w: %s wants time.Duration, got %T", ErrInvalidOptionValue, o, value)
		}
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidOptionValue, o)
		}
	case OptionSocketSize:
		n, ok := value.(int)
		if !ok {
			return fmt.Errorf("%w: %s wants int, got %T", ErrInvalidOptionValue, o, value)
		}
		if n <= 0 || n > 1<<31-1 {
			return fmt.Errorf("%w: %s out of range: %d", ErrInvalidOptionValue, o, n)
		}
	case OptionNone, OptionMaxWriteSize:
		return fmt.Errorf("%w: %s", ErrOptionNotSettable, o)
	default:
		return fmt.Errorf("%w: unknown option %d", ErrInvalidOptionValue, uint8(o))
	}
	return nil
}

func (s *optionStore) set(kind Option, value any) {
	switch kind {
	case OptionBlocking:
		s.blocking = value.(bool)
	case OptionRxTimeout:
		s.rxTimeout = value.(time.Duration)
	case OptionTxTimeout:
		s.txTimeout = value.(time.Duration)
	case OptionSocketSize:
		s.socketSize = value.(int)
	}
}

func (s *optionStore) get(kind Option) (any, error) {
	switch kind {
	case OptionBlocking:
		return s.blocking, nil
	case OptionRxTimeout:
		return s.rxTimeout, nil
	case OptionTxTimeout:
		return s.txTimeout, nil
	case OptionSocketSize:
		return s.socketSize, nil
	case OptionMaxWriteSize:
		return s.maxWriteSize, nil
	}
	return nil, fmt.Errorf("%w: cannot read %s", ErrInvalidOptionValue, kind)
}

// SetOption sets an endpoint option. Values are bool for OptionBlocking,
// time.Duration for the timeouts (0 waits forever) and int for
// OptionSocketSize. The socket size is forwarded to the daemon.
func (e *Endpoint) SetOption(kind Option, value any) error {
	if err := e.usable(); err != nil {
		return err
	}
	if err := kind.validate(value); err != nil {
		return err
	}

	if kind == OptionSocketSize {
		if err := e.forwardSocketSize(value.(int)); err != nil {
			return err
		}
	}

	e.rec.mu.Lock()
	e.rec.opts.set(kind, value)
	e.rec.mu.Unlock()
	return nil
}

// GetOption returns the option value and its encoded size. capacity is
// the caller's buffer size; if it is below the value size the error is a
// *BufferTooSmallError carrying the required size.
func (e *Endpoint) GetOption(kind Option, capacity int) (any, int, error) {
	if err := e.usable(); err != nil {
		return nil, 0, err
	}

	size := kind.Size()
	if size == 0 {
		return nil, 0, fmt.Errorf("%w: cannot read %s", ErrInvalidOptionValue, kind)
	}
	if capacity < size {
		return nil, size, &BufferTooSmallError{Option: kind, Required: size}
	}

	e.rec.mu.Lock()
	v, err := e.rec.opts.get(kind)
	e.rec.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	return v, size, nil
}

func (e *Endpoint) forwardSocketSize(n int) error {
	l, err := e.sess.linkFor(e.gen)
	if err != nil {
		return err
	}
	resp, err := l.request(context.Background(), &wire.Request{
		Operation:  wire.OpSetOption,
		EndpointID: uint8(e.rec.id),
		Option:     wire.OptionSocketSize,
		Value:      uint32(n),
	})
	if err != nil {
		return e.linkErr(err)
	}
	if !resp.IsSuccess() {
		return statusError(e.rec.id, wire.OpSetOption, resp)
	}
	return nil
}

// SetBlocking sets OptionBlocking.
func (e *Endpoint) SetBlocking(blocking bool) error {
	return e.SetOption(OptionBlocking, blocking)
}

// SetRxTimeout sets OptionRxTimeout. Zero waits forever.
func (e *Endpoint) SetRxTimeout(d time.Duration) error {
	return e.SetOption(OptionRxTimeout, d)
}

// SetTxTimeout sets OptionTxTimeout. Zero waits forever.
func (e *Endpoint) SetTxTimeout(d time.Duration) error {
	return e.SetOption(OptionTxTimeout, d)
}

// SetSocketSize sets OptionSocketSize.
func (e *Endpoint) SetSocketSize(n int) error {
	return e.SetOption(OptionSocketSize, n)
}

// MaxWriteSize returns the largest payload a single Write accepts, as
// negotiated with the daemon on open.
func (e *Endpoint) MaxWriteSize() int {
	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	return e.rec.opts.maxWriteSize
}
