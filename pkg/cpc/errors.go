package cpc

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"

	"github.com/cpc-host/cpc-go/pkg/wire"
)

// Session and endpoint errors.
var (
	// ErrDaemonUnavailable indicates the control connection could not be
	// established or is gone. Retry with Restart.
	ErrDaemonUnavailable = errors.New("cpc: daemon unavailable")

	// ErrAlreadyInitialized indicates a live Session already uses the socket path.
	ErrAlreadyInitialized = errors.New("cpc: already initialized")

	// ErrSessionClosed indicates the Session was closed.
	ErrSessionClosed = errors.New("cpc: session closed")

	// ErrVersionMismatch indicates the daemon speaks an incompatible protocol.
	ErrVersionMismatch = errors.New("cpc: protocol version mismatch")

	// ErrInvalidEndpointID indicates an ID outside the system and user ranges.
	ErrInvalidEndpointID = errors.New("cpc: invalid endpoint id")

	// ErrAlreadyOpen indicates a live handle exists for the endpoint.
	ErrAlreadyOpen = errors.New("cpc: endpoint already open")

	// ErrInvalidWindowSize indicates a transmit window other than 1.
	ErrInvalidWindowSize = errors.New("cpc: invalid window size")

	// ErrEndpointRejected indicates the daemon refused to open the endpoint.
	ErrEndpointRejected = errors.New("cpc: endpoint rejected")

	// ErrEndpointNotOpen indicates I/O on an endpoint that left OPEN.
	ErrEndpointNotOpen = errors.New("cpc: endpoint not open")

	// ErrStaleHandle indicates a handle from a lost or earlier generation.
	ErrStaleHandle = errors.New("cpc: stale handle")

	// ErrInvalidOptionValue indicates a value of the wrong type or range.
	ErrInvalidOptionValue = errors.New("cpc: invalid option value")

	// ErrOptionNotSettable indicates a read-only option.
	ErrOptionNotSettable = errors.New("cpc: option not settable")

	// ErrPayloadTooLarge indicates a write above the negotiated max write size.
	ErrPayloadTooLarge = errors.New("cpc: payload too large")

	// ErrBufferTooSmall indicates GetOption capacity below the value size.
	ErrBufferTooSmall = errors.New("cpc: buffer too small")

	// ErrTimeout indicates a blocking call hit its RX or TX timeout.
	ErrTimeout = errors.New("cpc: timeout")

	// ErrWouldBlock indicates a non-blocking call found nothing ready.
	ErrWouldBlock = iox.ErrWouldBlock
)

// Endpoint error-state errors, matched through *StateError.
var (
	ErrDestinationUnreachable = errors.New("cpc: destination unreachable")
	ErrSecurityIncident       = errors.New("cpc: security incident")
	ErrFault                  = errors.New("cpc: endpoint fault")
)

// StateError reports that an endpoint is in one of the ERROR_* states.
//
// It matches ErrEndpointNotOpen when returned from I/O, or
// ErrEndpointRejected when returned from Open, plus the sentinel for the
// state (ErrDestinationUnreachable, ErrSecurityIncident, ErrFault).
type StateError struct {
	ID    EndpointID
	State State

	// Rejected is set when an open was refused because the endpoint
	// failed earlier in this generation.
	Rejected bool
}

func (e *StateError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("cpc: endpoint %s cannot be reopened: %s", e.ID, e.State)
	}
	return fmt.Sprintf("cpc: endpoint %s is %s", e.ID, e.State)
}

// Is matches the sentinels described on StateError.
func (e *StateError) Is(target error) bool {
	if target == e.State.sentinel() {
		return true
	}
	if e.Rejected {
		return target == ErrEndpointRejected
	}
	return target == ErrEndpointNotOpen
}

// BufferTooSmallError reports the size GetOption needs.
type BufferTooSmallError struct {
	Option   Option
	Required int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("cpc: buffer too small for %s: need %d bytes", e.Option, e.Required)
}

// Unwrap returns ErrBufferTooSmall.
func (e *BufferTooSmallError) Unwrap() error {
	return ErrBufferTooSmall
}

// IsWouldBlock reports whether err is ErrWouldBlock.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// statusError converts a non-success daemon status into a library error.
func statusError(id EndpointID, op wire.Operation, resp *wire.Response) error {
	detail := resp.Status.String()
	if resp.Reason != "" {
		detail += ": " + resp.Reason
	}

	switch resp.Status {
	case wire.StatusNotOpen:
		return fmt.Errorf("%w: %s on %s (%s)", ErrEndpointNotOpen, op, id, detail)
	case wire.StatusDestinationUnreachable:
		return &StateError{ID: id, State: StateErrorDestinationUnreachable}
	case wire.StatusSecurityIncident:
		return &StateError{ID: id, State: StateErrorSecurityIncident}
	case wire.StatusFault:
		return &StateError{ID: id, State: StateErrorFault}
	case wire.StatusVersionMismatch:
		return fmt.Errorf("%w: %s", ErrVersionMismatch, detail)
	case wire.StatusInvalidArgument:
		return fmt.Errorf("%w: %s on %s (%s)", ErrInvalidOptionValue, op, id, detail)
	default:
		return fmt.Errorf("%w: %s on %s (%s)", ErrEndpointRejected, op, id, detail)
	}
}
