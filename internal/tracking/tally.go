package tracking

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// Tally turns crossing events into running entered/exited totals.
type Tally struct {
	SessionID uuid.UUID `json:"session_id"`
	Entered   int       `json:"entered"`
	Exited    int       `json:"exited"`
}

// Apply counts one event. Unknown directions are ignored.
func (t *Tally) Apply(dir Direction) {
	switch dir {
	case DirectionEntered:
		t.Entered++
	case DirectionExited:
		t.Exited++
	}
}

// Inside is the net number of identities that entered and have not exited.
func (t Tally) Inside() int {
	return t.Entered - t.Exited
}

// Tallies holds the live totals of every stream. Totals are kept in memory
// only and restart from zero with every new session.
type Tallies struct {
	mu      sync.RWMutex
	streams map[uuid.UUID]*Tally
}

func NewTallies() *Tallies {
	return &Tallies{streams: make(map[uuid.UUID]*Tally)}
}

// Record applies an event for streamID and returns the updated totals.
// An event from a newer session than the one held resets the totals first.
// Events of an older session are not counted and ok is false. Session ids
// are UUIDv7, so byte order is start order.
func (t *Tallies) Record(streamID, sessionID uuid.UUID, dir Direction) (tally Tally, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.session(streamID, sessionID)
	if cur == nil {
		return *t.streams[streamID], false
	}
	cur.Apply(dir)
	return *cur, true
}

// Begin starts zeroed totals for a new session of streamID. It has no effect
// when sessionID is not newer than the session held.
func (t *Tallies) Begin(streamID, sessionID uuid.UUID) {
	t.mu.Lock()
	t.session(streamID, sessionID)
	t.mu.Unlock()
}

func (t *Tallies) session(streamID, sessionID uuid.UUID) *Tally {
	cur, ok := t.streams[streamID]
	if ok {
		switch c := bytes.Compare(sessionID[:], cur.SessionID[:]); {
		case c == 0:
			return cur
		case c < 0:
			return nil
		}
	}
	cur = &Tally{SessionID: sessionID}
	t.streams[streamID] = cur
	return cur
}

// Get returns the totals for streamID. The zero Tally is returned for
// streams that have not produced any event yet.
func (t *Tallies) Get(streamID uuid.UUID) Tally {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if cur, ok := t.streams[streamID]; ok {
		return *cur
	}
	return Tally{}
}

// Reset forgets the totals of streamID.
func (t *Tallies) Reset(streamID uuid.UUID) {
	t.mu.Lock()
	delete(t.streams, streamID)
	t.mu.Unlock()
}
