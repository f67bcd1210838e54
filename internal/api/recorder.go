package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/your-org/pcount/internal/api/handlers"
	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/queue"
	"github.com/your-org/pcount/internal/tracking"
	"github.com/your-org/pcount/pkg/dto"
)

// CrossingWriter stores crossings; inserted is false for a crossing that was
// already stored.
type CrossingWriter interface {
	CreateCrossing(ctx context.Context, c *models.Crossing) (inserted bool, err error)
}

// Broadcaster pushes live events to connected clients.
type Broadcaster interface {
	BroadcastEvent(event *dto.WSEvent)
}

// CrossingRecorder consumes crossing results from the workers: it stores
// them, updates the live tallies and notifies WebSocket clients.
type CrossingRecorder struct {
	db      CrossingWriter
	tallies *tracking.Tallies
	hub     Broadcaster
}

func NewCrossingRecorder(db CrossingWriter, tallies *tracking.Tallies, hub Broadcaster) *CrossingRecorder {
	return &CrossingRecorder{db: db, tallies: tallies, hub: hub}
}

// Record handles one encoded models.CrossingResult. Malformed payloads yield
// a queue.Permanent error; storage errors are plain so the message is redelivered.
func (r *CrossingRecorder) Record(ctx context.Context, data []byte) error {
	var result models.CrossingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return queue.Permanent(fmt.Errorf("decode crossing result: %w", err))
	}
	if !result.Event.Direction.Valid() {
		return queue.Permanent(fmt.Errorf("unknown direction %q", result.Event.Direction))
	}

	crossing := result.ToCrossing()
	inserted, err := r.db.CreateCrossing(ctx, crossing)
	if err != nil {
		return fmt.Errorf("store crossing: %w", err)
	}
	if !inserted {
		slog.Debug("duplicate crossing ignored", "stream_id", result.StreamID, "track_id", result.Event.TrackID)
		return nil
	}

	tally, ok := r.tallies.Record(result.StreamID, result.SessionID, result.Event.Direction)
	if !ok {
		slog.Debug("crossing from superseded session not counted", "stream_id", result.StreamID, "session_id", result.SessionID)
		return nil
	}

	resp := handlers.ToCrossingResponse(crossing)
	counts := handlers.ToCountsResponse(result.StreamID, tally)
	r.hub.BroadcastEvent(&dto.WSEvent{
		Type:     "crossing",
		StreamID: result.StreamID,
		Crossing: &resp,
		Counts:   &counts,
	})
	return nil
}
