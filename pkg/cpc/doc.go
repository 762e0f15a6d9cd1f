// Package cpc is the host-side client of the CPC daemon.
//
// A Session owns one control connection to the daemon and multiplexes many
// endpoints over it. Each endpoint is an ordered, bidirectional channel to
// the secondary identified by a small integer ID.
//
// # Lifecycle
//
//	sess, err := cpc.Init(ctx, cpc.DefaultConfig(), func(gen uint32) {
//		atomic.StoreUint32(&needRestart, 1)
//	})
//	ep, err := sess.Open(ctx, cpc.EndpointCLI, 1)
//	n, err := ep.Write([]byte("help\n"), 0)
//	n, err = ep.Read(buf, 0)
//
// # Daemon loss
//
// When the control connection is lost every endpoint handle of the current
// generation becomes stale and blocked calls return ErrStaleHandle. The
// ResetFunc passed to Init is called once for that generation from a
// library goroutine. It must only record the event (set a flag, signal a
// channel) and return; calling back into the Session from it deadlocks.
// The application then calls Restart from ordinary code. Restart starts a
// new generation and the application reopens the endpoints it needs.
//
// # Writers
//
// The transmit window is one frame. Concurrent writers on one endpoint are
// admitted in FIFO order, each waiting for the previous write to be
// acknowledged by the daemon. Concurrent readers are serialized.
package cpc
