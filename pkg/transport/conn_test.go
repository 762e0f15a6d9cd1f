package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recordingHandler captures Conn callbacks.
type recordingHandler struct {
	mu       sync.Mutex
	messages [][]byte
	closeErr error
	closes   int
	closed   chan struct{}
	msgCh    chan []byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		closed: make(chan struct{}),
		msgCh:  make(chan []byte, 16),
	}
}

func (h *recordingHandler) OnMessage(msg []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	h.msgCh <- msg
}

func (h *recordingHandler) OnClose(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.closeErr = err
	if h.closes == 1 {
		close(h.closed)
	}
}

func (h *recordingHandler) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// shortSocketPath returns a socket path that fits the sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cpct")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctrl.sock")
}

func startServer(t *testing.T, onMessage func(*ServerConn, []byte)) (*Server, string) {
	t.Helper()
	path := shortSocketPath(t)
	srv, err := NewServer(ServerConfig{Path: path, OnMessage: onMessage})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, path
}

func quietConfig() ConnConfig {
	cfg := DefaultConnConfig()
	cfg.KeepAlive.Disabled = true
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnStateString(t *testing.T) {
	if StateConnected.String() != "CONNECTED" || StateDisconnected.String() != "DISCONNECTED" {
		t.Error("unexpected state names")
	}
	if ConnState(99).String() != "UNKNOWN" {
		t.Error("unknown state should be UNKNOWN")
	}
}

func TestDialNoDaemon(t *testing.T) {
	_, err := Dial(context.Background(), shortSocketPath(t), quietConfig(), newRecordingHandler())
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestConnEcho(t *testing.T) {
	_, path := startServer(t, func(c *ServerConn, msg []byte) {
		c.Send(append([]byte("echo:"), msg...))
	})

	h := newRecordingHandler()
	conn, err := Dial(context.Background(), path, quietConfig(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if conn.ConnID() == "" {
		t.Error("missing connection ID")
	}
	if conn.Path() != path {
		t.Errorf("Path = %q, want %q", conn.Path(), path)
	}

	if err := conn.Send([]byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-h.msgCh:
		if string(msg) != "echo:hi" {
			t.Errorf("got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
}

func TestConnLocalCloseIsSilent(t *testing.T) {
	srv, path := startServer(t, nil)

	h := newRecordingHandler()
	conn, err := Dial(context.Background(), path, quietConfig(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 })

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %s", conn.State())
	}
	if err := conn.Send([]byte("late")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after close = %v, want ErrNotConnected", err)
	}

	waitFor(t, func() bool { return srv.ConnectionCount() == 0 })
	if h.closeCount() != 0 {
		t.Error("OnClose called for a local close")
	}
}

func TestConnReportsDaemonCrashOnce(t *testing.T) {
	srv, path := startServer(t, nil)

	h := newRecordingHandler()
	conn, err := Dial(context.Background(), path, quietConfig(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 })

	srv.Stop()

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
	conn.Close()
	conn.ForceClose()

	if h.closeCount() != 1 {
		t.Errorf("OnClose called %d times", h.closeCount())
	}
}

func TestConnReportsPeerClose(t *testing.T) {
	srv, path := startServer(t, nil)

	h := newRecordingHandler()
	if _, err := Dial(context.Background(), path, quietConfig(), h); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 })

	for _, c := range srv.Connections() {
		c.SendClose()
	}

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("peer close not reported")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !errors.Is(h.closeErr, ErrPeerClosed) {
		t.Errorf("close error = %v, want ErrPeerClosed", h.closeErr)
	}
}

func TestConnKeepAliveDetectsHungDaemon(t *testing.T) {
	srv, path := startServer(t, nil)
	srv.SetAnswerPings(false)

	cfg := DefaultConnConfig()
	cfg.KeepAlive = KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}

	h := newRecordingHandler()
	conn, err := Dial(context.Background(), path, cfg, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("hung daemon not detected")
	}
	h.mu.Lock()
	closeErr := h.closeErr
	h.mu.Unlock()
	if !errors.Is(closeErr, ErrKeepAliveFailed) {
		t.Errorf("close error = %v, want ErrKeepAliveFailed", closeErr)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %s", conn.State())
	}
}

func TestConnKeepAliveHealthyDaemon(t *testing.T) {
	_, path := startServer(t, nil)

	cfg := DefaultConnConfig()
	cfg.KeepAlive = KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}

	h := newRecordingHandler()
	conn, err := Dial(context.Background(), path, cfg, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)
	if h.closeCount() != 0 {
		t.Error("healthy daemon reported as lost")
	}
}
