package cpc

import (
	"sync"
)

// record is the registry-owned state of one opened endpoint. Every Open
// creates a new record; handles keep a pointer to the record they were
// issued for, so a reopened ID never aliases an old handle.
type record struct {
	id  EndpointID
	gen uint32

	mu          sync.Mutex
	state       State
	opening     bool
	invalidated bool
	opts        optionStore
	rx          [][]byte
	done        chan struct{} // closed when the record leaves OPEN or is invalidated

	rxReady chan struct{} // one-token wakeup for the reader
	slot    chan struct{} // transmit window; holds a token when free
	readMu  sync.Mutex
}

func newRecord(id EndpointID, gen uint32) *record {
	r := &record{
		id:      id,
		gen:     gen,
		state:   StateClosed,
		opening: true,
		done:    make(chan struct{}),
		rxReady: make(chan struct{}, 1),
		slot:    make(chan struct{}, 1),
	}
	r.slot <- struct{}{}
	return r
}

// State returns the record state.
func (r *record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *record) isInvalidated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalidated
}

// activate completes a successful open. It fails if the generation was
// invalidated while the open request was in flight.
func (r *record) activate(maxWriteSize int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opening = false
	if r.invalidated {
		return false
	}
	r.state = StateOpen
	r.opts = newOptionStore(maxWriteSize)
	return true
}

// leaveOpenLocked moves the record out of OPEN and wakes blocked I/O.
// Caller holds r.mu.
func (r *record) leaveOpenLocked(next State) {
	if r.state == StateOpen {
		close(r.done)
	}
	r.state = next
	r.rx = nil
}

// transition applies a daemon-driven state change. It reports the previous
// state and whether anything changed.
func (r *record) transition(next State) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state
	if r.invalidated || prev == next || prev.IsError() {
		return prev, false
	}
	if prev != StateOpen && prev != StateClosing {
		return prev, false
	}
	if prev == StateClosing && !next.IsError() && next != StateClosed {
		return prev, false
	}
	r.leaveOpenLocked(next)
	return prev, true
}

// invalidate marks the record stale after its generation was lost.
func (r *record) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invalidated {
		return
	}
	r.invalidated = true
	if r.state == StateOpen {
		close(r.done)
	}
	r.rx = nil
}

// deliver queues one payload from the daemon.
func (r *record) deliver(data []byte) bool {
	r.mu.Lock()
	if r.state != StateOpen || r.invalidated {
		r.mu.Unlock()
		return false
	}
	r.rx = append(r.rx, data)
	r.mu.Unlock()

	r.signalRx()
	return true
}

func (r *record) signalRx() {
	select {
	case r.rxReady <- struct{}{}:
	default:
	}
}

func (r *record) releaseSlot() {
	select {
	case r.slot <- struct{}{}:
	default:
	}
}

// registry maps endpoint IDs to their current record. Slots are indexed by
// ID and only ever hold the record of the latest open for that ID.
type registry struct {
	mu    sync.Mutex
	slots [256]*record
}

// reserve claims id for a new open in generation gen.
func (g *registry) reserve(id EndpointID, gen uint32) (*record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur := g.slots[id]; cur != nil && cur.gen == gen {
		cur.mu.Lock()
		opening, state, invalidated := cur.opening, cur.state, cur.invalidated
		cur.mu.Unlock()

		switch {
		case invalidated:
		case opening || state == StateOpen || state == StateClosing:
			return nil, ErrAlreadyOpen
		case state.IsError():
			return nil, &StateError{ID: id, State: state, Rejected: true}
		}
	}

	r := newRecord(id, gen)
	g.slots[id] = r
	return r, nil
}

// release drops a record whose open failed. A record activated by a reply
// that arrived after its caller gave up is closed again.
func (g *registry) release(r *record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.slots[r.id] == r {
		g.slots[r.id] = nil
	}
	r.mu.Lock()
	r.opening = false
	if r.state == StateOpen {
		r.leaveOpenLocked(StateClosed)
	}
	r.mu.Unlock()
}

// lookup returns the record for id if it belongs to gen.
func (g *registry) lookup(id EndpointID, gen uint32) *record {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.slots[id]
	if r == nil || r.gen != gen {
		return nil
	}
	return r
}

// invalidate marks every record of gen stale.
func (g *registry) invalidate(gen uint32) int {
	g.mu.Lock()
	var victims []*record
	for _, r := range g.slots {
		if r != nil && r.gen == gen {
			victims = append(victims, r)
		}
	}
	g.mu.Unlock()

	for _, r := range victims {
		r.invalidate()
	}
	return len(victims)
}

// beginClose moves an OPEN record to CLOSING. It reports the state found
// and whether the caller owns the rest of the close.
func (r *record) beginClose() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invalidated {
		return r.state, false
	}
	prev := r.state
	if prev != StateOpen {
		return prev, false
	}
	r.leaveOpenLocked(StateClosing)
	return prev, true
}

// finishClose completes a close started by beginClose.
func (r *record) finishClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosing {
		r.state = StateClosed
	}
}
