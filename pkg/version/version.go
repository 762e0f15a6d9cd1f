// Package version provides control-protocol version parsing and the
// compatibility rule used during the daemon handshake.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the control-protocol version implemented by this library.
const Current = "1.0"

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// MustParse is Parse for compile-time constants. It panics on error.
func MustParse(s string) ProtocolVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
// Minor versions only add optional message keys.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// CheckPeer parses the version announced by the daemon and reports whether
// it can talk to this library.
func CheckPeer(announced string) (ProtocolVersion, error) {
	peer, err := Parse(announced)
	if err != nil {
		return ProtocolVersion{}, err
	}
	local := MustParse(Current)
	if !local.Compatible(peer) {
		return peer, fmt.Errorf("daemon speaks %s, library speaks %s", peer, local)
	}
	return peer, nil
}
