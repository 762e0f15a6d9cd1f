package cpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cpc-host/cpc-go/pkg/transport"
	"github.com/cpc-host/cpc-go/pkg/wire"
)

// errLinkDown is the internal cause recorded when a link fails.
var errLinkDown = errors.New("control connection down")

// call is one request awaiting its response.
type call struct {
	op      wire.Operation
	id      uint8
	sent    time.Time
	resp    chan *wire.Response
	onReply func(*wire.Response)
}

// link is the control connection of one generation. It correlates
// requests with responses and routes daemon events to the session.
type link struct {
	sess *Session
	gen  uint32
	conn atomic.Pointer[transport.Conn]

	nextMsgID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*call
	failed  error

	installed atomic.Bool
	dead      atomic.Bool
}

func newLink(s *Session, gen uint32) *link {
	return &link{
		sess:    s,
		gen:     gen,
		pending: make(map[uint32]*call),
	}
}

// messageID returns the next non-zero message ID.
func (l *link) messageID() uint32 {
	for {
		if id := l.nextMsgID.Add(1); id != 0 {
			return id
		}
	}
}

// start registers and sends a request. onReply, if set, runs on the read
// loop when the response arrives, even if the caller stopped waiting.
func (l *link) start(req *wire.Request, onReply func(*wire.Response)) (*call, error) {
	req.MessageID = l.messageID()
	c := &call{
		op:      req.Operation,
		id:      req.EndpointID,
		resp:    make(chan *wire.Response, 1),
		onReply: onReply,
	}

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.failed != nil {
		err := l.failed
		l.mu.Unlock()
		return nil, err
	}
	l.pending[req.MessageID] = c
	l.mu.Unlock()

	c.sent = time.Now()
	if err := l.conn.Load().Send(data); err != nil {
		l.abandon(req.MessageID)
		return nil, fmt.Errorf("%w: %v", errLinkDown, err)
	}
	l.sess.traceRequest(l, req)
	return c, nil
}

// request sends req and waits for its response, bounded by ctx and the
// configured request timeout.
func (l *link) request(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	c, err := l.start(req, nil)
	if err != nil {
		return nil, err
	}
	return l.await(ctx, c, req)
}

// await waits for the response to a started request.
func (l *link) await(ctx context.Context, c *call, req *wire.Request) (*wire.Response, error) {
	msgID := req.MessageID

	timer := time.NewTimer(l.sess.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-c.resp:
		if !ok {
			return nil, l.err()
		}
		return resp, nil
	case <-ctx.Done():
		l.abandon(msgID)
		return nil, ctx.Err()
	case <-timer.C:
		l.abandon(msgID)
		return nil, fmt.Errorf("%w: no response to %s within %s", ErrTimeout, req.Operation, l.sess.cfg.RequestTimeout)
	}
}

func (l *link) abandon(msgID uint32) {
	l.mu.Lock()
	delete(l.pending, msgID)
	l.mu.Unlock()
}

func (l *link) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed == nil {
		return errLinkDown
	}
	return l.failed
}

// failAll fails every pending request. Later requests fail immediately.
func (l *link) failAll(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed != nil {
		return
	}
	l.failed = cause
	for id, c := range l.pending {
		close(c.resp)
		delete(l.pending, id)
	}
}

// OnMessage routes a frame from the daemon. Runs on the read loop.
func (l *link) OnMessage(data []byte) {
	kind, err := wire.PeekKind(data)
	if err != nil {
		l.sess.debugLog("OnMessage: failed to peek message kind", "generation", l.gen, "error", err)
		return
	}

	switch kind {
	case wire.KindResponse:
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			l.sess.debugLog("OnMessage: failed to decode response", "generation", l.gen, "error", err)
			return
		}
		l.handleResponse(resp)

	case wire.KindEvent:
		ev, err := wire.DecodeEvent(data)
		if err != nil {
			l.sess.debugLog("OnMessage: failed to decode event", "generation", l.gen, "error", err)
			return
		}
		l.sess.traceEvent(l, ev)
		l.sess.handleEvent(l.gen, ev)

	default:
		l.sess.debugLog("OnMessage: unexpected message kind", "generation", l.gen, "kind", kind)
	}
}

func (l *link) handleResponse(resp *wire.Response) {
	l.mu.Lock()
	c, ok := l.pending[resp.MessageID]
	if ok {
		delete(l.pending, resp.MessageID)
	}
	l.mu.Unlock()

	if !ok {
		l.sess.debugLog("OnMessage: response for unknown request", "generation", l.gen, "msgID", resp.MessageID)
		return
	}

	l.sess.traceResponse(l, c, resp)
	if c.onReply != nil {
		c.onReply(resp)
	}
	c.resp <- resp
}

// OnClose is the loss detection path. It runs on a transport goroutine
// and only records the loss; recovery happens on the session watcher.
func (l *link) OnClose(err error) {
	l.dead.Store(true)
	l.failAll(fmt.Errorf("%w: %v", errLinkDown, err))
	if l.installed.Load() {
		l.sess.connectionLost(l.gen)
	}
}

func (l *link) connID() string {
	if c := l.conn.Load(); c != nil {
		return c.ConnID()
	}
	return ""
}
