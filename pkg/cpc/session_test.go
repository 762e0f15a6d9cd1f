package cpc_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	daemon "github.com/cpc-host/cpc-go/internal/testharness/mock"
	"github.com/cpc-host/cpc-go/pkg/connection"
	"github.com/cpc-host/cpc-go/pkg/cpc"
	plog "github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/transport"
	"github.com/cpc-host/cpc-go/pkg/wire"
)

const waitTimeout = 2 * time.Second

func testConfig(d *daemon.Daemon) cpc.Config {
	cfg := cpc.DefaultConfig()
	cfg.SocketPath = d.Path
	cfg.KeepAlive = transport.KeepAliveConfig{Disabled: true}
	cfg.RestartBackoff = connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	return cfg
}

// resetCounter counts ResetFunc calls.
type resetCounter struct {
	calls atomic.Int32
	last  atomic.Uint32
}

func (r *resetCounter) onReset(gen uint32) {
	r.calls.Add(1)
	r.last.Store(gen)
}

func startSession(t *testing.T, d *daemon.Daemon, cfg cpc.Config, onReset cpc.ResetFunc) *cpc.Session {
	t.Helper()
	s, err := cpc.Init(context.Background(), cfg, onReset)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(t *testing.T) (*daemon.Daemon, *cpc.Session, *resetCounter) {
	t.Helper()
	d := daemon.StartDaemon(t)
	rc := &resetCounter{}
	s := startSession(t, d, testConfig(d), rc.onReset)
	return d, s, rc
}

func openEndpoint(t *testing.T, s *cpc.Session, id cpc.EndpointID) *cpc.Endpoint {
	t.Helper()
	ep, err := s.Open(context.Background(), id, 1)
	require.NoError(t, err)
	return ep
}

func waitLost(t *testing.T, rc *resetCounter, gen uint32) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rc.calls.Load() > 0 && rc.last.Load() == gen
	}, waitTimeout, 5*time.Millisecond, "ResetFunc not called for generation %d", gen)
}

func TestInitHandshake(t *testing.T) {
	d, s, _ := newSession(t)

	assert.Equal(t, uint32(1), s.Generation())
	assert.False(t, s.Lost())
	assert.Equal(t, 1, d.Hellos())
	assert.Equal(t, 1, d.ConnectionCount())
}

func TestInitDaemonUnavailable(t *testing.T) {
	cfg := cpc.DefaultConfig()
	cfg.SocketPath = daemon.SocketPath(t)

	_, err := cpc.Init(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, cpc.ErrDaemonUnavailable)

	// The failed attempt does not hold the path.
	_, err = cpc.Init(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, cpc.ErrDaemonUnavailable)
}

func TestInitAlreadyInitialized(t *testing.T) {
	d := daemon.StartDaemon(t)
	cfg := testConfig(d)

	s, err := cpc.Init(context.Background(), cfg, nil)
	require.NoError(t, err)

	_, err = cpc.Init(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, cpc.ErrAlreadyInitialized)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), cpc.ErrSessionClosed)

	s2, err := cpc.Init(context.Background(), cfg, nil)
	require.NoError(t, err, "Close frees the socket path")
	require.NoError(t, s2.Close())
}

func TestInitVersionMismatch(t *testing.T) {
	d := daemon.NewDaemon(daemon.SocketPath(t))
	d.Version = "2.0"
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)

	_, err := cpc.Init(context.Background(), testConfig(d), nil)
	assert.ErrorIs(t, err, cpc.ErrVersionMismatch)
}

func TestClosedSessionRefusesCalls(t *testing.T) {
	d := daemon.StartDaemon(t)
	s, err := cpc.Init(context.Background(), testConfig(d), nil)
	require.NoError(t, err)
	ep := openEndpoint(t, s, cpc.EndpointCLI)

	require.NoError(t, s.Close())

	_, err = s.Open(context.Background(), cpc.EndpointZigbee, 1)
	assert.ErrorIs(t, err, cpc.ErrSessionClosed)
	assert.ErrorIs(t, s.Restart(context.Background()), cpc.ErrSessionClosed)

	_, err = ep.Write([]byte("x"), 0)
	assert.ErrorIs(t, err, cpc.ErrSessionClosed)
	_, err = ep.Read(make([]byte, 4), 0)
	assert.ErrorIs(t, err, cpc.ErrSessionClosed)
	assert.ErrorIs(t, ep.Close(), cpc.ErrSessionClosed)
}

func TestCrashNotifiesOnceAndInvalidatesHandles(t *testing.T) {
	d, s, rc := newSession(t)
	ep := openEndpoint(t, s, cpc.UserEndpoint(0))

	readErr := make(chan error, 1)
	go func() {
		_, err := ep.Read(make([]byte, 16), 0)
		readErr <- err
	}()

	d.Stop()
	waitLost(t, rc, 1)

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, cpc.ErrStaleHandle)
	case <-time.After(waitTimeout):
		t.Fatal("blocked Read not woken by daemon loss")
	}

	assert.True(t, s.Lost())
	_, err := ep.Write([]byte("data"), 0)
	assert.ErrorIs(t, err, cpc.ErrStaleHandle)
	assert.ErrorIs(t, ep.Close(), cpc.ErrStaleHandle)

	_, err = s.Open(context.Background(), cpc.UserEndpoint(1), 1)
	assert.ErrorIs(t, err, cpc.ErrDaemonUnavailable)

	// Restart fails while the daemon is down and the session stays lost.
	assert.ErrorIs(t, s.Restart(context.Background()), cpc.ErrDaemonUnavailable)
	assert.Equal(t, uint32(1), s.Generation())
	assert.True(t, s.Lost())

	require.NoError(t, d.Restart(context.Background()))
	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, uint32(2), s.Generation())
	assert.False(t, s.Lost())

	// Old handles stay stale; the ID can be opened again.
	_, err = ep.Write([]byte("data"), 0)
	assert.ErrorIs(t, err, cpc.ErrStaleHandle)

	ep2 := openEndpoint(t, s, cpc.UserEndpoint(0))
	assert.Equal(t, uint32(2), ep2.Generation())
	n, err := ep2.Write([]byte("data"), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), rc.calls.Load(), "ResetFunc runs once per lost generation")
}

func TestResetNotifyChannel(t *testing.T) {
	d, s, _ := newSession(t)

	d.Stop()
	select {
	case <-s.ResetNotify():
	case <-time.After(waitTimeout):
		t.Fatal("ResetNotify not signalled")
	}
	assert.True(t, s.Lost())
}

func TestPeerCloseIsALoss(t *testing.T) {
	d, s, rc := newSession(t)
	openEndpoint(t, s, cpc.EndpointCLI)

	d.Shutdown()
	waitLost(t, rc, 1)
	assert.True(t, s.Lost())
}

func TestHungDaemonDetectedByKeepAlive(t *testing.T) {
	d := daemon.StartDaemon(t)
	cfg := testConfig(d)
	cfg.KeepAlive = transport.KeepAliveConfig{
		PingInterval:   30 * time.Millisecond,
		PongTimeout:    30 * time.Millisecond,
		MaxMissedPongs: 2,
	}
	rc := &resetCounter{}
	s := startSession(t, d, cfg, rc.onReset)
	ep := openEndpoint(t, s, cpc.EndpointCLI)

	d.HoldAcks(true)
	_, err := ep.Write([]byte("first"), cpc.FlagNonBlock)
	require.NoError(t, err)

	writeErr := make(chan error, 1)
	go func() {
		_, err := ep.Write([]byte("second"), 0)
		writeErr <- err
	}()

	d.SetHung(true)
	waitLost(t, rc, 1)

	select {
	case err := <-writeErr:
		assert.ErrorIs(t, err, cpc.ErrStaleHandle)
	case <-time.After(waitTimeout):
		t.Fatal("blocked Write not woken by keep-alive failure")
	}
}

func TestRestartHealthySessionInvalidatesHandles(t *testing.T) {
	d, s, rc := newSession(t)
	ep := openEndpoint(t, s, cpc.EndpointGPIO)

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, uint32(2), s.Generation())
	assert.Equal(t, 2, d.Hellos())

	_, err := ep.Read(make([]byte, 4), cpc.FlagNonBlock)
	assert.ErrorIs(t, err, cpc.ErrStaleHandle)
	assert.Equal(t, int32(0), rc.calls.Load(), "an intentional restart is not a loss")
}

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) Dial(ctx context.Context, path string, cfg transport.ConnConfig, h transport.ConnHandler) (*transport.Conn, error) {
	args := m.Called(path)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return transport.Dial(ctx, path, cfg, h)
}

func TestRestartWithBackoffRetries(t *testing.T) {
	d := daemon.StartDaemon(t)
	refused := errors.New("connection refused")

	dialer := &mockDialer{}
	dialer.On("Dial", d.Path).Return(nil).Once()
	dialer.On("Dial", d.Path).Return(refused).Twice()
	dialer.On("Dial", d.Path).Return(nil).Once()

	cfg := testConfig(d)
	cfg.Dialer = dialer
	rc := &resetCounter{}
	s := startSession(t, d, cfg, rc.onReset)

	require.NoError(t, d.Restart(context.Background()))
	waitLost(t, rc, 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.RestartWithBackoff(ctx))

	assert.Equal(t, uint32(2), s.Generation())
	dialer.AssertExpectations(t)
	dialer.AssertNumberOfCalls(t, "Dial", 4)
}

func TestRestartWithBackoffGivesUp(t *testing.T) {
	d, s, rc := newSession(t)
	d.Stop()
	waitLost(t, rc, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.RestartWithBackoff(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, cpc.ErrDaemonUnavailable)
	assert.True(t, s.Lost())
}

func TestDefaultSocketPath(t *testing.T) {
	assert.Equal(t, "/dev/shm/cpcd/cpcd_0/ctrl.cpcd.sock", cpc.DefaultSocketPath(""))
	assert.Equal(t, "/dev/shm/cpcd/radio1/ctrl.cpcd.sock", cpc.DefaultSocketPath("radio1"))
}

func TestCloseFlushesTrace(t *testing.T) {
	d := daemon.StartDaemon(t)
	path := filepath.Join(t.TempDir(), "session.clog")
	fl, err := plog.NewFileLogger(path)
	require.NoError(t, err)
	t.Cleanup(func() { fl.Close() })

	cfg := testConfig(d)
	cfg.ProtocolLogger = fl
	s, err := cpc.Init(context.Background(), cfg, nil)
	require.NoError(t, err)
	ep := openEndpoint(t, s, cpc.EndpointCLI)
	_, err = ep.Write([]byte("traced"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The logger is still open; everything up to Close is on disk.
	r, err := plog.NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var writes, closed int
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if m := ev.Message; m != nil && m.Operation != nil && *m.Operation == wire.OpWrite && m.Kind == wire.KindResponse {
			writes++
		}
		if sc := ev.StateChange; sc != nil && sc.Entity == plog.StateEntitySession && sc.NewState == "CLOSED" {
			closed++
		}
	}
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, closed)
}
