package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusRejected indicates the daemon refused the request
	// (unknown or unsupported endpoint, endpoint already bound).
	StatusRejected Status = 1

	// StatusNotOpen indicates the endpoint is not open on the daemon side.
	StatusNotOpen Status = 2

	// StatusInvalidArgument indicates a malformed or out-of-range field.
	StatusInvalidArgument Status = 3

	// StatusVersionMismatch indicates incompatible protocol versions.
	StatusVersionMismatch Status = 4

	// StatusBusy indicates the daemon cannot accept the request right now.
	StatusBusy Status = 5

	// StatusDestinationUnreachable indicates the secondary did not answer.
	StatusDestinationUnreachable Status = 6

	// StatusSecurityIncident indicates the secondary reported a security failure.
	StatusSecurityIncident Status = 7

	// StatusFault indicates an internal daemon or secondary fault.
	StatusFault Status = 8
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRejected:
		return "REJECTED"
	case StatusNotOpen:
		return "NOT_OPEN"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusVersionMismatch:
		return "VERSION_MISMATCH"
	case StatusBusy:
		return "BUSY"
	case StatusDestinationUnreachable:
		return "DESTINATION_UNREACHABLE"
	case StatusSecurityIncident:
		return "SECURITY_INCIDENT"
	case StatusFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
