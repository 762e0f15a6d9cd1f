package cpc

import "fmt"

// connectionLost records the loss of gen's connection. It is called from
// transport goroutines and must stay non-blocking: one compare-and-swap
// and one non-blocking send. Recovery runs on the watcher.
func (s *Session) connectionLost(gen uint32) {
	if gen != s.gen.Load() {
		return
	}
	if !s.markLost(gen) {
		return
	}
	select {
	case s.lossCh <- gen:
	default:
	}
}

// markLost marks gen lost. Only the first caller for a generation wins.
func (s *Session) markLost(gen uint32) bool {
	return s.lostGen.CompareAndSwap(gen-1, gen)
}

// watch handles detected losses until the session is closed.
func (s *Session) watch() {
	defer close(s.doneCh)
	for {
		select {
		case gen := <-s.lossCh:
			s.handleLoss(gen)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Session) handleLoss(gen uint32) {
	n := s.reg.invalidate(gen)

	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l != nil && l.gen == gen {
		l.failAll(fmt.Errorf("%w: generation %d lost", errLinkDown, gen))
	}

	s.warnLog("cpc daemon connection lost", "generation", gen, "endpoints", n)
	s.traceState(gen, nil, "CONNECTED", "LOST", "daemon connection lost")

	select {
	case s.resetCh <- struct{}{}:
	default:
	}
	if s.onReset != nil {
		s.onReset(gen)
	}
	s.markHandled(gen)
}

func (s *Session) markHandled(gen uint32) {
	s.handledMu.Lock()
	if gen > s.handledGen {
		s.handledGen = gen
	}
	s.handledMu.Unlock()
	s.handledCond.Broadcast()
}

// waitHandled blocks until the loss of gen has been fully handled.
func (s *Session) waitHandled(gen uint32) {
	s.handledMu.Lock()
	defer s.handledMu.Unlock()
	for s.handledGen < gen {
		s.handledCond.Wait()
	}
}
