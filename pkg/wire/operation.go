package wire

// Operation represents a request operation sent to the daemon.
type Operation uint8

const (
	// OpHello opens the session and negotiates the protocol version.
	OpHello Operation = 1

	// OpOpen binds an endpoint ID to a fresh channel.
	OpOpen Operation = 2

	// OpClose releases an endpoint.
	OpClose Operation = 3

	// OpGetState queries the daemon-side state of an endpoint.
	OpGetState Operation = 4

	// OpWrite transmits one payload on an endpoint. The response is the
	// acknowledgement that frees the transmit window.
	OpWrite Operation = 5

	// OpSetOption forwards an endpoint option the daemon must honor.
	OpSetOption Operation = 6
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpHello:
		return "Hello"
	case OpOpen:
		return "Open"
	case OpClose:
		return "Close"
	case OpGetState:
		return "GetState"
	case OpWrite:
		return "Write"
	case OpSetOption:
		return "SetOption"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is a known operation.
func (o Operation) IsValid() bool {
	return o >= OpHello && o <= OpSetOption
}
