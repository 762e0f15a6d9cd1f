package cpc

import (
	"fmt"
)

// EndpointID identifies an endpoint. Valid values are the system endpoints
// below and the user range returned by UserEndpoint.
type EndpointID uint8

// System endpoints.
const (
	EndpointSystem         EndpointID = 0
	EndpointSecurity       EndpointID = 1
	EndpointBluetooth      EndpointID = 2
	EndpointRailDownstream EndpointID = 3
	EndpointRailUpstream   EndpointID = 4
	EndpointZigbee         EndpointID = 5
	EndpointZWave          EndpointID = 6
	EndpointConnect        EndpointID = 7
	EndpointGPIO           EndpointID = 8
	EndpointOpenThread     EndpointID = 9
	EndpointWiSUN          EndpointID = 10
	EndpointWiFi           EndpointID = 11
	Endpoint15_4           EndpointID = 12
	EndpointCLI            EndpointID = 13
)

// User endpoint range.
const (
	FirstUserEndpoint EndpointID = 90
	LastUserEndpoint  EndpointID = 99

	// UserEndpointCount is the number of user endpoints.
	UserEndpointCount = int(LastUserEndpoint-FirstUserEndpoint) + 1
)

var systemEndpointNames = [...]string{
	EndpointSystem:         "system",
	EndpointSecurity:       "security",
	EndpointBluetooth:      "bluetooth",
	EndpointRailDownstream: "rail-downstream",
	EndpointRailUpstream:   "rail-upstream",
	EndpointZigbee:         "zigbee",
	EndpointZWave:          "zwave",
	EndpointConnect:        "connect",
	EndpointGPIO:           "gpio",
	EndpointOpenThread:     "openthread",
	EndpointWiSUN:          "wisun",
	EndpointWiFi:           "wifi",
	Endpoint15_4:           "15.4",
	EndpointCLI:            "cli",
}

// UserEndpoint returns the n-th user endpoint (n in 0..9). Out-of-range n
// yields an ID that Valid reports as invalid.
func UserEndpoint(n int) EndpointID {
	if n < 0 || n >= UserEndpointCount {
		return EndpointID(0xFF)
	}
	return FirstUserEndpoint + EndpointID(n)
}

// ParseEndpointID validates a raw endpoint number.
func ParseEndpointID(v uint8) (EndpointID, error) {
	id := EndpointID(v)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEndpointID, v)
	}
	return id, nil
}

// Valid reports whether id is a system or user endpoint.
func (id EndpointID) Valid() bool {
	return id <= EndpointCLI || id.IsUser()
}

// IsUser reports whether id is in the user range.
func (id EndpointID) IsUser() bool {
	return id >= FirstUserEndpoint && id <= LastUserEndpoint
}

// String returns the endpoint name.
func (id EndpointID) String() string {
	switch {
	case id <= EndpointCLI:
		return systemEndpointNames[id]
	case id.IsUser():
		return fmt.Sprintf("user%d", id-FirstUserEndpoint)
	default:
		return fmt.Sprintf("invalid(%d)", uint8(id))
	}
}
