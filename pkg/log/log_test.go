package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpc-host/cpc-go/pkg/wire"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
	logger.Log(Event{Error: &ErrorEventData{Message: "ignored"}})
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{ConnectionID: "c1"})
	m.Log(Event{ConnectionID: "c2"})

	assert.Len(t, a.events, 2)
	assert.Len(t, b.events, 2)
	assert.Equal(t, "c2", b.events[1].ConnectionID)
}

func TestEventCBORRoundTrip(t *testing.T) {
	op := wire.OpWrite
	ep := uint8(90)
	rtt := 3 * time.Millisecond
	in := Event{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Generation:   2,
		Message: &MessageEvent{
			Kind:        wire.KindRequest,
			MessageID:   17,
			Operation:   &op,
			EndpointID:  &ep,
			PayloadSize: 12,
			RoundTrip:   &rtt,
		},
	}

	data, err := EncodeEvent(in)
	require.NoError(t, err)

	out, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.True(t, in.Timestamp.Equal(out.Timestamp), "timestamp keeps nanoseconds")
	assert.Equal(t, in.ConnectionID, out.ConnectionID)
	assert.Equal(t, uint32(2), out.Generation)
	require.NotNil(t, out.Message)
	assert.Equal(t, wire.OpWrite, *out.Message.Operation)
	assert.Equal(t, uint8(90), *out.Message.EndpointID)
	assert.Equal(t, rtt, *out.Message.RoundTrip)
}

func TestFileLoggerAndFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.clog")

	fl, err := NewFileLogger(path)
	require.NoError(t, err)

	ep5, ep90 := uint8(5), uint8(90)
	fl.Log(Event{Timestamp: time.Now(), Generation: 1, Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityEndpoint, EndpointID: &ep5, NewState: "OPEN"}})
	fl.Log(Event{Timestamp: time.Now(), Generation: 1, Category: CategoryMessage,
		Message: &MessageEvent{Kind: wire.KindEvent, EndpointID: &ep90}})
	fl.Log(Event{Timestamp: time.Now(), Generation: 2, Category: CategoryControl,
		ControlMsg: &ControlMsgEvent{Type: wire.ControlPing, Sequence: 4}})
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close(), "Close is idempotent")

	fl.Log(Event{}) // ignored after close

	r, err := NewReader(path)
	require.NoError(t, err)
	count := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	require.NoError(t, r.Close())
	assert.Equal(t, 3, count)

	r, err = NewFilteredReader(path, Filter{EndpointID: &ep90})
	require.NoError(t, err)
	defer r.Close()
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, CategoryMessage, ev.Category)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)

	r2, err := NewFilteredReader(path, Filter{Generation: 2})
	require.NoError(t, err)
	defer r2.Close()
	ev, err = r2.Next()
	require.NoError(t, err)
	require.NotNil(t, ev.ControlMsg)
	assert.Equal(t, uint32(4), ev.ControlMsg.Sequence)
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ep := uint8(13)
	NewSlogAdapter(slogger).Log(Event{
		ConnectionID: "conn-9",
		Layer:        LayerSession,
		Category:     CategoryState,
		Generation:   3,
		StateChange: &StateChangeEvent{
			Entity:     StateEntityEndpoint,
			EndpointID: &ep,
			OldState:   "OPEN",
			NewState:   "ERROR_FAULT",
			Reason:     "daemon event",
		},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "conn-9", entry["conn_id"])
	assert.Equal(t, "SESSION", entry["layer"])
	assert.Equal(t, "ENDPOINT", entry["entity"])
	assert.Equal(t, "ERROR_FAULT", entry["new_state"])
	assert.Equal(t, float64(13), entry["endpoint"])
	assert.Equal(t, float64(3), entry["generation"])
}

func readAll(t *testing.T, path string) []Event {
	t.Helper()
	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestFileLoggerFlushesSessionEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.clog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	defer fl.Close()

	fl.Log(Event{Timestamp: time.Now(), Generation: 1, Layer: LayerWire, Category: CategoryMessage,
		Message: &MessageEvent{Kind: wire.KindRequest, MessageID: 1}})
	assert.Empty(t, readAll(t, path), "wire events stay buffered")

	fl.Log(Event{Timestamp: time.Now(), Generation: 1, Layer: LayerSession, Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntitySession, NewState: "LOST"}})
	assert.Len(t, readAll(t, path), 2, "a session event flushes")

	fl.Log(Event{Timestamp: time.Now(), Generation: 1, Layer: LayerWire, Category: CategoryMessage,
		Message: &MessageEvent{Kind: wire.KindEvent}})
	require.NoError(t, fl.Flush())
	assert.Len(t, readAll(t, path), 3)
	assert.Equal(t, uint32(1), fl.Generation())
}

func TestFileLoggerSplitGenerations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.clog")
	fl, err := NewFileLoggerWithOptions(path, FileLoggerOptions{SplitGenerations: true})
	require.NoError(t, err)

	state := func(gen uint32, s string) Event {
		return Event{Timestamp: time.Now(), Generation: gen, Layer: LayerSession, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntitySession, NewState: s}}
	}
	fl.Log(Event{Timestamp: time.Now(), Layer: LayerTransport, Frame: &FrameEvent{Size: 8}})
	fl.Log(state(1, "CONNECTED"))
	fl.Log(state(1, "LOST"))
	fl.Log(state(2, "CONNECTED"))
	fl.Log(state(1, "LATE")) // a late event of an older generation stays in the current file
	require.NoError(t, fl.Close())

	assert.Equal(t, filepath.Join(filepath.Dir(path), "session.gen2.clog"), GenerationPath(path, 2))
	assert.Len(t, readAll(t, path), 1)
	assert.Len(t, readAll(t, GenerationPath(path, 1)), 2)

	gen2 := readAll(t, GenerationPath(path, 2))
	require.Len(t, gen2, 2)
	assert.Equal(t, "LATE", gen2[1].StateChange.NewState)
}

func TestMultiLoggerFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.clog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	defer fl.Close()

	m := NewMultiLogger(&captureLogger{}, fl)
	m.Log(Event{Timestamp: time.Now(), Layer: LayerWire, Category: CategoryMessage,
		Message: &MessageEvent{Kind: wire.KindResponse, MessageID: 3}})
	require.NoError(t, Flush(m))
	assert.Len(t, readAll(t, path), 1)

	assert.NoError(t, Flush(nil))
	assert.NoError(t, Flush(NoopLogger{}))
}
