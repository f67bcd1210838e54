package tracking

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(x, y float64) Point { return Point{X: x, Y: y} }

func mustUpdate(t *testing.T, tr *Tracker, width float64, pts ...Point) []CrossingEvent {
	t.Helper()
	events, err := tr.Update(pts, width)
	require.NoError(t, err)
	return events
}

func TestTracker_NewIdentitiesStartAtZero(t *testing.T) {
	tr := NewTracker(0)

	events := mustUpdate(t, tr, 300, pt(10, 10), pt(200, 10), pt(100, 200))
	assert.Empty(t, events)

	want := []Identity{
		{ID: 0, Position: pt(10, 10)},
		{ID: 1, Position: pt(200, 10)},
		{ID: 2, Position: pt(100, 200)},
	}
	if diff := cmp.Diff(want, tr.Identities()); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, tr.NextID())
}

func TestTracker_DefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultDistanceThreshold, NewTracker(0).threshold)
	assert.Equal(t, DefaultDistanceThreshold, NewTracker(-3).threshold)
	assert.Equal(t, 80.0, NewTracker(80).threshold)
}

func TestTracker_ThresholdBoundary(t *testing.T) {
	t.Run("exactly at threshold does not match", func(t *testing.T) {
		tr := NewTracker(50)
		mustUpdate(t, tr, 1000, pt(100, 100))
		mustUpdate(t, tr, 1000, pt(150, 100))

		ids := tr.Identities()
		require.Len(t, ids, 1)
		assert.Equal(t, 1, ids[0].ID)
	})

	t.Run("just inside threshold matches", func(t *testing.T) {
		tr := NewTracker(50)
		mustUpdate(t, tr, 1000, pt(100, 100))
		mustUpdate(t, tr, 1000, pt(149.999, 100))

		ids := tr.Identities()
		require.Len(t, ids, 1)
		assert.Equal(t, 0, ids[0].ID)
		assert.Equal(t, pt(149.999, 100), ids[0].Position)
	})

	t.Run("diagonal distance of exactly threshold does not match", func(t *testing.T) {
		tr := NewTracker(50)
		mustUpdate(t, tr, 1000, pt(0, 0))
		mustUpdate(t, tr, 1000, pt(30, 40))

		ids := tr.Identities()
		require.Len(t, ids, 1)
		assert.Equal(t, 1, ids[0].ID)
	})
}

func TestTracker_EnteredInclusiveOnDestination(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(100, 50))

	events := mustUpdate(t, tr, 300, pt(140, 50))
	assert.Empty(t, events)

	events = mustUpdate(t, tr, 300, pt(150, 50))
	require.Len(t, events, 1)
	assert.Equal(t, CrossingEvent{
		TrackID:   0,
		Direction: DirectionEntered,
		From:      pt(140, 50),
		To:        pt(150, 50),
	}, events[0])
	assert.True(t, tr.Identities()[0].Crossed)
}

func TestTracker_EnteredFromSpecBoundaryCase(t *testing.T) {
	// 100 -> 150 is exactly 50 apart, so use a larger threshold to let it match.
	tr := NewTracker(60)
	mustUpdate(t, tr, 300, pt(100, 0))

	events := mustUpdate(t, tr, 300, pt(150, 0))
	require.Len(t, events, 1)
	assert.Equal(t, DirectionEntered, events[0].Direction)
}

func TestTracker_StartingOnLineDoesNotExit(t *testing.T) {
	tr := NewTracker(60)
	mustUpdate(t, tr, 300, pt(150, 0))

	events := mustUpdate(t, tr, 300, pt(100, 0))
	assert.Empty(t, events)
	assert.False(t, tr.Identities()[0].Crossed)

	// Still eligible: moving back over the line from the left enters.
	events = mustUpdate(t, tr, 300, pt(140, 0))
	assert.Empty(t, events)
	events = mustUpdate(t, tr, 300, pt(151, 0))
	require.Len(t, events, 1)
	assert.Equal(t, DirectionEntered, events[0].Direction)
}

func TestTracker_ExitedInclusiveOnDestination(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(170, 0))

	events := mustUpdate(t, tr, 300, pt(150, 0))
	require.Len(t, events, 1)
	assert.Equal(t, DirectionExited, events[0].Direction)
	assert.Equal(t, 0, events[0].TrackID)
}

func TestTracker_AtMostOneCrossingPerIdentity(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	xs := []float64{120, 140, 160, 140, 120, 140, 160, 180}

	var all []CrossingEvent
	for _, x := range xs {
		all = append(all, mustUpdate(t, tr, 300, pt(x, 10))...)
	}

	require.Len(t, all, 1)
	assert.Equal(t, DirectionEntered, all[0].Direction)
	ids := tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 0, ids[0].ID)
	assert.True(t, ids[0].Crossed)
}

func TestTracker_NoEventOnCreationFrame(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(10, 10))

	// The old identity is too far away; the new one sits past the line but was just created.
	events := mustUpdate(t, tr, 300, pt(200, 10))
	assert.Empty(t, events)

	ids := tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 1, ids[0].ID)
	assert.False(t, ids[0].Crossed)
}

func TestTracker_DroppedIdentityIsNotReidentified(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(50, 50))
	mustUpdate(t, tr, 300)
	assert.Equal(t, 0, tr.Len())

	mustUpdate(t, tr, 300, pt(51, 50))
	ids := tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 1, ids[0].ID)
}

func TestTracker_UnmatchedIdentitiesAreDropped(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(10, 10), pt(250, 250))
	mustUpdate(t, tr, 300, pt(12, 10))

	want := []Identity{{ID: 0, Position: pt(12, 10)}}
	if diff := cmp.Diff(want, tr.Identities()); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_OneToOneMatching(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(100, 100))

	// Both centroids are close to id 0, only the first one may claim it.
	mustUpdate(t, tr, 300, pt(105, 100), pt(102, 100))

	want := []Identity{
		{ID: 0, Position: pt(105, 100)},
		{ID: 1, Position: pt(102, 100)},
	}
	if diff := cmp.Diff(want, tr.Identities()); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_GreedyPicksNearestAvailable(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 1000, pt(100, 100), pt(130, 100))

	// First centroid is nearest to id 1; second falls back to id 0.
	mustUpdate(t, tr, 1000, pt(128, 100), pt(110, 100))

	want := []Identity{
		{ID: 0, Position: pt(110, 100)},
		{ID: 1, Position: pt(128, 100)},
	}
	if diff := cmp.Diff(want, tr.Identities()); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_TieGoesToOldestIdentity(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 1000, pt(100, 100), pt(120, 100))

	mustUpdate(t, tr, 1000, pt(110, 100))
	ids := tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 0, ids[0].ID)
}

func TestTracker_EventsFollowCentroidOrder(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(140, 10), pt(160, 200))

	events := mustUpdate(t, tr, 300, pt(145, 200), pt(155, 10))
	want := []CrossingEvent{
		{TrackID: 1, Direction: DirectionExited, From: pt(160, 200), To: pt(145, 200)},
		{TrackID: 0, Direction: DirectionEntered, From: pt(140, 10), To: pt(155, 10)},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_NonFiniteCentroidsNeverMatch(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(10, 10))

	events := mustUpdate(t, tr, 300, pt(math.NaN(), 10), pt(math.Inf(1), 10))
	assert.Empty(t, events)

	ids := tr.Identities()
	require.Len(t, ids, 2)
	assert.Equal(t, 1, ids[0].ID)
	assert.Equal(t, 2, ids[1].ID)

	// A NaN identity cannot be continued either.
	mustUpdate(t, tr, 300, pt(math.NaN(), 10))
	ids = tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 3, ids[0].ID)
}

func TestTracker_NonFiniteFrameWidthNeverCrosses(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, math.NaN(), pt(140, 10))
	events := mustUpdate(t, tr, math.NaN(), pt(160, 10))
	assert.Empty(t, events)
}

func TestTracker_RejectsConcurrentUpdate(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)
	mustUpdate(t, tr, 300, pt(10, 10))

	tr.busy.Store(true)
	events, err := tr.Update([]Point{pt(500, 500)}, 300)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.Nil(t, events)

	tr.busy.Store(false)
	ids := tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 0, ids[0].ID)
	assert.Equal(t, 1, tr.NextID())
}

func TestTracker_Deterministic(t *testing.T) {
	frames := [][]Point{
		{pt(10, 10), pt(300, 10), pt(600, 10)},
		{pt(40, 12), pt(290, 15), pt(580, 10)},
		{pt(70, 12), pt(310, 15)},
		{pt(100, 12), pt(330, 15), pt(900, 900)},
	}

	run := func() ([]CrossingEvent, []Identity) {
		tr := NewTracker(DefaultDistanceThreshold)
		var all []CrossingEvent
		for _, f := range frames {
			all = append(all, mustUpdate(t, tr, 640, f...)...)
		}
		return all, tr.Identities()
	}

	ev1, ids1 := run()
	ev2, ids2 := run()
	if diff := cmp.Diff(ev1, ev2); diff != "" {
		t.Errorf("events differ between runs:\n%s", diff)
	}
	if diff := cmp.Diff(ids1, ids2); diff != "" {
		t.Errorf("identities differ between runs:\n%s", diff)
	}

	require.Len(t, ev1, 1)
	assert.Equal(t, CrossingEvent{TrackID: 1, Direction: DirectionEntered, From: pt(310, 15), To: pt(330, 15)}, ev1[0])
}

func TestTracker_EndToEndScenario(t *testing.T) {
	tr := NewTracker(DefaultDistanceThreshold)

	// Frame 1: id 0 is created, no event.
	events := mustUpdate(t, tr, 300, pt(10, 50))
	assert.Empty(t, events)

	// Frame 2: 150px away from id 0, so a new id 1 replaces it.
	events = mustUpdate(t, tr, 300, pt(160, 50))
	assert.Empty(t, events)
	ids := tr.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 1, ids[0].ID)

	// Frame 3: id 1 moves from 160 to 140 over the line at 150.
	events = mustUpdate(t, tr, 300, pt(140, 52))
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].TrackID)
	assert.Equal(t, DirectionExited, events[0].Direction)
	assert.True(t, tr.Identities()[0].Crossed)
}

func TestDirection_Valid(t *testing.T) {
	assert.True(t, DirectionEntered.Valid())
	assert.True(t, DirectionExited.Valid())
	assert.False(t, Direction("sideways").Valid())
	assert.False(t, Direction("").Valid())
}
