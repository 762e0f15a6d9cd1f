package log

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cpc-host/cpc-go/pkg/wire"
)

// Trace files are CBOR sequences of Events. Timestamps are RFC 3339 text
// so nanoseconds survive; decoding tolerates events from newer writers.
var (
	eventEncMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})
	eventDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace event encoder: %v", err))
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace event decoder: %v", err))
	}
	return dm
}

// EncodeEvent encodes one trace event.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEncMode.Marshal(event)
}

// DecodeEvent decodes one trace event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Event represents a protocol trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the control connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the daemon socket path.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Generation is the session generation the event belongs to (0 if unknown).
	Generation uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session/endpoint state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a message from the daemon.
	DirectionIn Direction = 0
	// DirectionOut indicates a message to the daemon.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the control-protocol layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerSession is the session and endpoint layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (request/response/event).
	CategoryMessage Category = 0
	// CategoryControl indicates a control message (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded control-protocol message.
type MessageEvent struct {
	// Kind distinguishes request/response/event.
	Kind wire.Kind `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs (0 for events).
	MessageID uint32 `cbor:"2,keyasint,omitempty"`

	// Operation is set for requests.
	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`

	// EndpointID is the addressed endpoint.
	EndpointID *uint8 `cbor:"4,keyasint,omitempty"`

	// Status is set for responses.
	Status *wire.Status `cbor:"5,keyasint,omitempty"`

	// EventType is set for events.
	EventType *wire.EventType `cbor:"6,keyasint,omitempty"`

	// PayloadSize is the number of endpoint data bytes carried.
	PayloadSize int `cbor:"7,keyasint,omitempty"`

	// RoundTrip is the time from request send to response receipt.
	RoundTrip *time.Duration `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures connection, session and endpoint lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// EndpointID is set when Entity is StateEntityEndpoint.
	EndpointID *uint8 `cbor:"2,keyasint,omitempty"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"3,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"4,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a control connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session generation change.
	StateEntitySession StateEntity = 1
	// StateEntityEndpoint indicates an endpoint state change.
	StateEntityEndpoint StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityEndpoint:
		return "ENDPOINT"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures keep-alive and close control messages.
type ControlMsgEvent struct {
	// Type of control message.
	Type wire.ControlMessageType `cbor:"1,keyasint"`

	// Sequence is the ping/pong sequence number.
	Sequence uint32 `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
