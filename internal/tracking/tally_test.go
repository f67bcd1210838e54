package tracking

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTally_Apply(t *testing.T) {
	var tl Tally
	tl.Apply(DirectionEntered)
	tl.Apply(DirectionEntered)
	tl.Apply(DirectionExited)
	tl.Apply(Direction("bogus"))

	assert.Equal(t, 2, tl.Entered)
	assert.Equal(t, 1, tl.Exited)
	assert.Equal(t, 1, tl.Inside())
}

func TestTallies_RecordAndGet(t *testing.T) {
	tallies := NewTallies()
	stream := uuid.New()
	session := uuid.New()

	assert.Equal(t, Tally{}, tallies.Get(stream))

	tallies.Record(stream, session, DirectionEntered)
	got, ok := tallies.Record(stream, session, DirectionExited)

	assert.True(t, ok)
	assert.Equal(t, Tally{SessionID: session, Entered: 1, Exited: 1}, got)
	assert.Equal(t, got, tallies.Get(stream))
}

func TestTallies_NewSessionResets(t *testing.T) {
	tallies := NewTallies()
	stream := uuid.New()

	first := mustV7(t)
	tallies.Record(stream, first, DirectionEntered)
	tallies.Record(stream, first, DirectionEntered)

	second := mustV7(t)
	got, ok := tallies.Record(stream, second, DirectionExited)
	assert.True(t, ok)
	assert.Equal(t, Tally{SessionID: second, Exited: 1}, got)
}

func TestTallies_OlderSessionIgnored(t *testing.T) {
	tallies := NewTallies()
	stream := uuid.New()

	older := mustV7(t)
	newer := mustV7(t)
	tallies.Record(stream, newer, DirectionEntered)

	got, ok := tallies.Record(stream, older, DirectionEntered)
	assert.False(t, ok)
	assert.Equal(t, Tally{SessionID: newer, Entered: 1}, got)
}

func TestTallies_Begin(t *testing.T) {
	tallies := NewTallies()
	stream := uuid.New()

	first := mustV7(t)
	tallies.Record(stream, first, DirectionEntered)

	second := mustV7(t)
	tallies.Begin(stream, second)
	assert.Equal(t, Tally{SessionID: second}, tallies.Get(stream))

	tallies.Begin(stream, first)
	assert.Equal(t, second, tallies.Get(stream).SessionID, "older session does not replace newer")
}

func mustV7(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestTallies_StreamsAreIndependent(t *testing.T) {
	tallies := NewTallies()
	a, b := uuid.New(), uuid.New()
	session := uuid.New()

	tallies.Record(a, session, DirectionEntered)
	tallies.Record(b, session, DirectionExited)

	assert.Equal(t, 1, tallies.Get(a).Entered)
	assert.Equal(t, 0, tallies.Get(a).Exited)
	assert.Equal(t, 1, tallies.Get(b).Exited)

	tallies.Reset(a)
	assert.Equal(t, Tally{}, tallies.Get(a))
	assert.Equal(t, 1, tallies.Get(b).Exited)
}

func TestTallies_ConcurrentRecord(t *testing.T) {
	tallies := NewTallies()
	stream, session := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tallies.Record(stream, session, DirectionEntered)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tallies.Get(stream).Entered)
}
