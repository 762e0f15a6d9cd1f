package cpc

import "github.com/cpc-host/cpc-go/pkg/wire"

// State is the lifecycle state of an endpoint.
type State uint8

// Endpoint states. Values match the control protocol.
const (
	StateOpen                        = State(wire.StateOpen)
	StateClosed                      = State(wire.StateClosed)
	StateClosing                     = State(wire.StateClosing)
	StateErrorDestinationUnreachable = State(wire.StateErrorDestinationUnreachable)
	StateErrorSecurityIncident       = State(wire.StateErrorSecurityIncident)
	StateErrorFault                  = State(wire.StateErrorFault)
)

// String returns the state name.
func (s State) String() string {
	return wire.EndpointState(s).String()
}

// IsError reports whether s is one of the ERROR_* states. Error states
// are terminal for the generation they occurred in.
func (s State) IsError() bool {
	switch s {
	case StateErrorDestinationUnreachable, StateErrorSecurityIncident, StateErrorFault:
		return true
	}
	return false
}

// sentinel returns the error that identifies an error state.
func (s State) sentinel() error {
	switch s {
	case StateErrorDestinationUnreachable:
		return ErrDestinationUnreachable
	case StateErrorSecurityIncident:
		return ErrSecurityIncident
	case StateErrorFault:
		return ErrFault
	}
	return nil
}

func stateFromWire(s wire.EndpointState) State {
	if !s.IsValid() {
		return StateErrorFault
	}
	return State(s)
}
