// Package transport carries control-protocol messages between the library
// and the daemon.
//
// The transport layer handles:
//   - Unix domain socket control connections
//   - Length-prefixed message framing
//   - Keep-alive ping/pong for hung-daemon detection
//   - Connection state management and loss reporting
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│   Unix domain stream socket    │
//	└────────────────────────────────┘
//
// # Loss detection
//
// A connection is lost when a read fails, the peer sends a close control
// message, or the keep-alive misses too many pongs. Loss is reported once per
// connection through ConnHandler.OnClose. The callback runs on the read loop
// or keep-alive goroutine and must not block.
//
// # Keep-Alive
//
// The daemon is a local process, so the defaults are much tighter than for a
// network link:
//   - Ping interval: 5 seconds
//   - Pong timeout: 2 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 17 seconds
package transport
