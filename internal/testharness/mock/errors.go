package mock

import "errors"

// Mock package errors.
var (
	// ErrNotRunning is returned when the daemon double is stopped.
	ErrNotRunning = errors.New("daemon not running")

	// ErrNoClient is returned when an event has nobody to go to.
	ErrNoClient = errors.New("no client connected")

	// ErrEndpointNotOpen is returned when pushing data to a closed endpoint.
	ErrEndpointNotOpen = errors.New("endpoint not open on daemon")
)
