// Package wire defines the CBOR control protocol spoken between the host
// library and the CPC daemon over the control socket.
//
// Every message is a CBOR map with integer keys, carried in a 4-byte
// length-prefixed frame (see package transport). Key 1 always holds the
// message kind so a receiver can dispatch without decoding the whole map.
//
// # Message Kinds
//
//   - Request: library to daemon (Hello, Open, Close, GetState, Write, SetOption)
//   - Response: daemon to library, correlated by messageId
//   - Event: daemon to library, unsolicited (endpoint state change, endpoint data)
//   - Control: either direction (ping, pong, close)
//
// # Endpoint Addressing
//
// Endpoints are addressed by their 8-bit ID in key 4 of requests, responses
// and events. The daemon owns the mapping from IDs to the secondary; this
// package only carries the ID.
package wire
