package tracking

import (
	"errors"
	"math"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
)

// DefaultDistanceThreshold is the default maximum centroid displacement (in
// pixels, exclusive) for a detection to continue an existing identity.
const DefaultDistanceThreshold = 50.0

// ErrConcurrentUpdate is returned when Update is called while another Update
// on the same Tracker has not yet returned.
var ErrConcurrentUpdate = errors.New("tracking: concurrent tracker update")

// Direction is the side-to-side movement of an identity across the center line.
type Direction string

const (
	// DirectionEntered is a left-to-right crossing.
	DirectionEntered Direction = "entered"
	// DirectionExited is a right-to-left crossing.
	DirectionExited Direction = "exited"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionEntered || d == DirectionExited
}

// Identity is one object followed across consecutive frames.
type Identity struct {
	ID       int   `json:"id"`
	Position Point `json:"position"`
	Crossed  bool  `json:"crossed"`
}

// CrossingEvent reports that an identity moved across the center line.
type CrossingEvent struct {
	TrackID   int       `json:"track_id"`
	Direction Direction `json:"direction"`
	From      Point     `json:"from"`
	To        Point     `json:"to"`
}

// Tracker follows centroids across frames by greedy nearest-neighbour
// matching and reports center line crossings, at most once per identity.
//
// A Tracker is owned by a single caller: Update must not be called
// concurrently. Overlapping calls are rejected with ErrConcurrentUpdate.
type Tracker struct {
	busy       atomic.Bool
	identities map[int]*Identity
	nextID     int
	threshold  float64
}

// NewTracker creates an empty tracker. A non-positive threshold selects
// DefaultDistanceThreshold.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	return &Tracker{
		identities: make(map[int]*Identity),
		threshold:  threshold,
	}
}

// Update associates this frame's centroids with the identities seen in the
// previous frame and returns the crossing events it produced, in centroid order.
//
// Matching is greedy in centroid order: each centroid takes the closest
// still-unmatched identity strictly nearer than the threshold, ties going to
// the lowest id. This can differ from a globally optimal assignment when
// several identities are mutually close. Unmatched centroids start new
// identities; identities without a match are dropped.
func (t *Tracker) Update(centroids []Point, frameWidth float64) ([]CrossingEvent, error) {
	if !t.busy.CompareAndSwap(false, true) {
		return nil, ErrConcurrentUpdate
	}
	defer t.busy.Store(false)

	centerLine := frameWidth / 2

	// Candidate pool in first-seen order so equal distances resolve to the older id.
	pool := make([]*Identity, 0, len(t.identities))
	for _, id := range t.sortedIDs() {
		pool = append(pool, t.identities[id])
	}
	matched := make([]bool, len(pool))

	next := make(map[int]*Identity, len(centroids))
	var events []CrossingEvent

	for _, c := range centroids {
		best := -1
		bestDist := t.threshold
		for i, cand := range pool {
			if matched[i] {
				continue
			}
			d := distance(cand.Position, c)
			if d < bestDist {
				bestDist = d
				best = i
			}
		}

		if best < 0 {
			ident := &Identity{ID: t.nextID, Position: c}
			t.nextID++
			next[ident.ID] = ident
			continue
		}

		matched[best] = true
		prev := pool[best]
		ident := &Identity{ID: prev.ID, Position: c, Crossed: prev.Crossed}

		if !ident.Crossed {
			switch {
			case prev.Position.X < centerLine && c.X >= centerLine:
				ident.Crossed = true
				events = append(events, CrossingEvent{TrackID: ident.ID, Direction: DirectionEntered, From: prev.Position, To: c})
			case prev.Position.X > centerLine && c.X <= centerLine:
				ident.Crossed = true
				events = append(events, CrossingEvent{TrackID: ident.ID, Direction: DirectionExited, From: prev.Position, To: c})
			}
		}
		next[ident.ID] = ident
	}

	t.identities = next
	return events, nil
}

// Identities returns a copy of the current registry ordered by id.
func (t *Tracker) Identities() []Identity {
	out := make([]Identity, 0, len(t.identities))
	for _, id := range t.sortedIDs() {
		out = append(out, *t.identities[id])
	}
	return out
}

// Len returns the number of identities seen in the last frame.
func (t *Tracker) Len() int {
	return len(t.identities)
}

// NextID returns the id the next new identity will receive.
func (t *Tracker) NextID() int {
	return t.nextID
}

func (t *Tracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.identities))
	for id := range t.identities {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// distance is the Euclidean distance between a and b. Non-finite inputs
// yield NaN or +Inf, both of which fail any threshold comparison.
func distance(a, b Point) float64 {
	d := floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
	if math.IsNaN(d) {
		return math.Inf(1)
	}
	return d
}
