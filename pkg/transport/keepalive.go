package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive defaults for a daemon on the same host.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 5 * time.Second

	// DefaultPongTimeout is the default time allowed for a pong to arrive.
	DefaultPongTimeout = 2 * time.Second

	// DefaultMaxMissedPongs is the number of missed pongs that declares the daemon hung.
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is the time allowed for a pong to arrive.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of consecutive missed pongs before timeout.
	MaxMissedPongs int

	// Disabled turns keep-alive off. Loss is then detected only by read errors.
	Disabled bool
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// DetectionDelay returns the worst-case time to notice a hung daemon.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	c = c.withDefaults()
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	LastLatency  time.Duration
	MissedPongs  int
	CurrentSeq   uint32
}

// KeepAlive pings the peer on a fixed interval and reports a timeout once
// MaxMissedPongs consecutive pings go unanswered.
type KeepAlive struct {
	config KeepAliveConfig

	sendPing  func(seq uint32) error
	onTimeout func()

	sequence atomic.Uint32
	pongCh   chan uint32

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	pendingSeq  uint32
	hasPending  bool
	missedPongs int
	lastPing    time.Time
	lastPong    time.Time
	lastLatency time.Duration
}

// NewKeepAlive creates a keep-alive monitor. onTimeout is called at most once
// per Start, from the monitor goroutine.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	return &KeepAlive{
		config:    config.withDefaults(),
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongCh:    make(chan uint32, 1),
	}
}

// Start begins monitoring. It is a no-op if already running.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running {
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.missedPongs = 0
	ka.hasPending = false
	go ka.loop(ctx, ka.stopCh)
}

// Stop stops monitoring.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// IsRunning returns true if monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// PongReceived records a pong from the peer. Never blocks.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
	}
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPing,
		LastPongTime: ka.lastPong,
		LastLatency:  ka.lastLatency,
		MissedPongs:  ka.missedPongs,
		CurrentSeq:   ka.sequence.Load(),
	}
}

func (ka *KeepAlive) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	ka.ping()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case seq := <-ka.pongCh:
			ka.pong(seq)
		case <-ticker.C:
			if ka.expired() {
				ka.mu.Lock()
				fire := ka.running && ka.stopCh == stopCh
				if fire {
					ka.running = false
				}
				ka.mu.Unlock()
				if fire && ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
			ka.ping()
		}
	}
}

func (ka *KeepAlive) ping() {
	seq := ka.sequence.Add(1)

	ka.mu.Lock()
	ka.lastPing = time.Now()
	ka.pendingSeq = seq
	ka.hasPending = true
	ka.mu.Unlock()

	// A failed send is left to the pong timeout; the read loop will usually
	// report the broken socket first.
	_ = ka.sendPing(seq)
}

// expired accounts for an unanswered ping and reports whether the miss
// budget is exhausted.
func (ka *KeepAlive) expired() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.hasPending || time.Since(ka.lastPing) < ka.config.PongTimeout {
		return false
	}
	ka.hasPending = false
	ka.missedPongs++
	return ka.missedPongs >= ka.config.MaxMissedPongs
}

func (ka *KeepAlive) pong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.lastPong = now

	// Late pongs from an earlier ping are ignored.
	if ka.hasPending && seq == ka.pendingSeq {
		ka.lastLatency = now.Sub(ka.lastPing)
		ka.hasPending = false
		ka.missedPongs = 0
	}
}
