package cpc

import (
	"time"

	plog "github.com/cpc-host/cpc-go/pkg/log"
	"github.com/cpc-host/cpc-go/pkg/wire"
)

func (s *Session) traceMessage(l *link, dir plog.Direction, msg *plog.MessageEvent) {
	if s.trace == nil {
		return
	}
	s.trace.Log(plog.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.connID(),
		Direction:    dir,
		Layer:        plog.LayerWire,
		Category:     plog.CategoryMessage,
		RemoteAddr:   s.cfg.SocketPath,
		Generation:   l.gen,
		Message:      msg,
	})
}

func (s *Session) traceRequest(l *link, req *wire.Request) {
	if s.trace == nil {
		return
	}
	op, ep := req.Operation, req.EndpointID
	s.traceMessage(l, plog.DirectionOut, &plog.MessageEvent{
		Kind:        wire.KindRequest,
		MessageID:   req.MessageID,
		Operation:   &op,
		EndpointID:  &ep,
		PayloadSize: len(req.Data),
	})
}

func (s *Session) traceResponse(l *link, c *call, resp *wire.Response) {
	if s.trace == nil {
		return
	}
	op, ep, status := c.op, resp.EndpointID, resp.Status
	rtt := time.Since(c.sent)
	s.traceMessage(l, plog.DirectionIn, &plog.MessageEvent{
		Kind:       wire.KindResponse,
		MessageID:  resp.MessageID,
		Operation:  &op,
		EndpointID: &ep,
		Status:     &status,
		RoundTrip:  &rtt,
	})
}

func (s *Session) traceEvent(l *link, ev *wire.Event) {
	if s.trace == nil {
		return
	}
	typ, ep := ev.Type, ev.EndpointID
	s.traceMessage(l, plog.DirectionIn, &plog.MessageEvent{
		Kind:        wire.KindEvent,
		EndpointID:  &ep,
		EventType:   &typ,
		PayloadSize: len(ev.Data),
	})
}

// traceState records a session (id == nil) or endpoint state change.
func (s *Session) traceState(gen uint32, id *EndpointID, oldState, newState, reason string) {
	if s.trace == nil {
		return
	}
	change := &plog.StateChangeEvent{
		Entity:   plog.StateEntitySession,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	if id != nil {
		ep := uint8(*id)
		change.Entity = plog.StateEntityEndpoint
		change.EndpointID = &ep
	}
	s.trace.Log(plog.Event{
		Timestamp:   time.Now(),
		Layer:       plog.LayerSession,
		Category:    plog.CategoryState,
		RemoteAddr:  s.cfg.SocketPath,
		Generation:  gen,
		StateChange: change,
	})
}

func (s *Session) traceError(gen uint32, msg, context string) {
	if s.trace == nil {
		return
	}
	s.trace.Log(plog.Event{
		Timestamp:  time.Now(),
		Layer:      plog.LayerSession,
		Category:   plog.CategoryError,
		RemoteAddr: s.cfg.SocketPath,
		Generation: gen,
		Error: &plog.ErrorEventData{
			Layer:   plog.LayerSession,
			Message: msg,
			Context: context,
		},
	})
}
