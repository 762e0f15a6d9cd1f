package wire

import (
	"fmt"
)

// CBOR map keys shared by every message.
const (
	KeyKind      = 1
	KeyMessageID = 2
)

// Kind discriminates the four message families. It is always stored at key 1.
type Kind uint8

const (
	// KindRequest is a library-to-daemon request.
	KindRequest Kind = 1

	// KindResponse answers a request with the same messageId.
	KindResponse Kind = 2

	// KindEvent is an unsolicited daemon-to-library message.
	KindEvent Kind = 3

	// KindControl is a ping, pong or close message.
	KindControl Kind = 4
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Request represents a request from the library to the daemon.
//
// CBOR encoding:
//
//	{
//	  1: kind,          // uint8: always 1
//	  2: messageId,     // uint32: non-zero, echoed in the response
//	  3: operation,     // uint8
//	  4: endpointId,    // uint8
//	  5: windowSize,    // uint8 (Open)
//	  6: data,          // bytes (Write)
//	  7: option,        // uint8 (SetOption)
//	  8: value,         // uint32 (SetOption)
//	  9: version,       // string "major.minor" (Hello)
//	  10: pid           // int (Hello)
//	}
type Request struct {
	Kind       Kind      `cbor:"1,keyasint"`
	MessageID  uint32    `cbor:"2,keyasint"`
	Operation  Operation `cbor:"3,keyasint"`
	EndpointID uint8     `cbor:"4,keyasint,omitempty"`
	WindowSize uint8     `cbor:"5,keyasint,omitempty"`
	Data       []byte    `cbor:"6,keyasint,omitempty"`
	Option     Option    `cbor:"7,keyasint,omitempty"`
	Value      uint32    `cbor:"8,keyasint,omitempty"`
	Version    string    `cbor:"9,keyasint,omitempty"`
	PID        int       `cbor:"10,keyasint,omitempty"`
}

// Validate checks if the request is well formed.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return fmt.Errorf("messageId 0 is reserved")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	switch r.Operation {
	case OpHello:
		if r.Version == "" {
			return fmt.Errorf("hello requires a version")
		}
	case OpWrite:
		if len(r.Data) == 0 {
			return fmt.Errorf("write requires data")
		}
	case OpSetOption:
		if r.Option != OptionSocketSize {
			return fmt.Errorf("option %s cannot be forwarded", r.Option)
		}
	}
	return nil
}

// Response represents the daemon's answer to a request.
//
// CBOR encoding:
//
//	{
//	  1: kind,          // uint8: always 2
//	  2: messageId,     // uint32: matches the request
//	  3: status,        // uint8
//	  4: endpointId,    // uint8
//	  5: state,         // uint8 (GetState)
//	  6: maxWriteSize,  // uint32 (Open)
//	  7: version,       // string (Hello)
//	  8: reason         // string, optional diagnostic
//	}
type Response struct {
	Kind         Kind          `cbor:"1,keyasint"`
	MessageID    uint32        `cbor:"2,keyasint"`
	Status       Status        `cbor:"3,keyasint"`
	EndpointID   uint8         `cbor:"4,keyasint,omitempty"`
	State        EndpointState `cbor:"5,keyasint,omitempty"`
	MaxWriteSize uint32        `cbor:"6,keyasint,omitempty"`
	Version      string        `cbor:"7,keyasint,omitempty"`
	Reason       string        `cbor:"8,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// EventType identifies an unsolicited daemon event.
type EventType uint8

const (
	// EventStateChanged reports a daemon-driven endpoint state transition.
	EventStateChanged EventType = 1

	// EventData carries one payload received from the secondary.
	EventData EventType = 2
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event represents an unsolicited message from the daemon.
//
// CBOR encoding:
//
//	{
//	  1: kind,        // uint8: always 3
//	  3: eventType,   // uint8
//	  4: endpointId,  // uint8
//	  5: state,       // uint8 (StateChanged)
//	  6: data         // bytes (Data)
//	}
type Event struct {
	Kind       Kind          `cbor:"1,keyasint"`
	Type       EventType     `cbor:"3,keyasint"`
	EndpointID uint8         `cbor:"4,keyasint,omitempty"`
	State      EndpointState `cbor:"5,keyasint,omitempty"`
	Data       []byte        `cbor:"6,keyasint,omitempty"`
}

// ControlMessage represents a connection-level control message.
// These are separate from the request/response/event model.
type ControlMessage struct {
	Kind     Kind               `cbor:"1,keyasint"`
	Type     ControlMessageType `cbor:"3,keyasint"`
	Sequence uint32             `cbor:"4,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}

// EndpointState mirrors the daemon's view of an endpoint.
type EndpointState uint8

const (
	StateOpen                        EndpointState = 0
	StateClosed                      EndpointState = 1
	StateClosing                     EndpointState = 2
	StateErrorDestinationUnreachable EndpointState = 3
	StateErrorSecurityIncident       EndpointState = 4
	StateErrorFault                  EndpointState = 5
)

// String returns the state name.
func (s EndpointState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateClosing:
		return "CLOSING"
	case StateErrorDestinationUnreachable:
		return "ERROR_DESTINATION_UNREACHABLE"
	case StateErrorSecurityIncident:
		return "ERROR_SECURITY_INCIDENT"
	case StateErrorFault:
		return "ERROR_FAULT"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the state is a known state.
func (s EndpointState) IsValid() bool {
	return s <= StateErrorFault
}

// Option identifies an endpoint option on the wire.
type Option uint8

const (
	OptionNone         Option = 0
	OptionBlocking     Option = 1
	OptionRxTimeout    Option = 2
	OptionTxTimeout    Option = 3
	OptionSocketSize   Option = 4
	OptionMaxWriteSize Option = 5
)

// String returns the option name.
func (o Option) String() string {
	switch o {
	case OptionNone:
		return "none"
	case OptionBlocking:
		return "blocking"
	case OptionRxTimeout:
		return "rx_timeout"
	case OptionTxTimeout:
		return "tx_timeout"
	case OptionSocketSize:
		return "socket_size"
	case OptionMaxWriteSize:
		return "max_write_size"
	default:
		return "unknown"
	}
}
