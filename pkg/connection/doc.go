// Package connection provides retry pacing for re-establishing the daemon
// session after a crash.
//
// # Retry Strategy
//
// When the daemon goes away it usually comes back under its supervisor
// within a second or two. Restart attempts use exponential backoff:
//
//  1. Initial delay: 250 milliseconds
//  2. Exponential increase: 500ms, 1s, 2s, 4s, 8s
//  3. Maximum delay: 10 seconds
//  4. Continue at 10s until successful or the context ends
//  5. Reset to the initial delay on success
//
// # Jitter
//
// Several processes usually share one daemon and all lose it at once:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
