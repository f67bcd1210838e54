package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/pcount/internal/tracking"
)

// Crossing is a stored center line crossing.
type Crossing struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	StreamID  uuid.UUID          `json:"stream_id" db:"stream_id"`
	SessionID uuid.UUID          `json:"session_id" db:"session_id"`
	TrackID   int                `json:"track_id" db:"track_id"`
	Direction tracking.Direction `json:"direction" db:"direction"`
	Timestamp time.Time          `json:"timestamp" db:"timestamp"`
	FrameSeq  uint64             `json:"frame_seq" db:"frame_seq"`
	FromX     float64            `json:"from_x" db:"from_x"`
	ToX       float64            `json:"to_x" db:"to_x"`
	Y         float64            `json:"y" db:"y"`
	BatchKey  string             `json:"batch_key,omitempty" db:"batch_key"` // MinIO key of the archived detection batch
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}

// FrameTask is the message published to NATS for worker processing: the
// detections of one frame of one stream session.
type FrameTask struct {
	StreamID   uuid.UUID            `json:"stream_id"`
	SessionID  uuid.UUID            `json:"session_id"`
	Seq        uint64               `json:"seq"` // 1-based, increasing within a session
	Timestamp  time.Time            `json:"timestamp"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Detections []tracking.Detection `json:"detections"`
	BatchKey   string               `json:"batch_key,omitempty"`
}

// CrossingResult is the output from a vision worker for one crossing event.
type CrossingResult struct {
	StreamID  uuid.UUID              `json:"stream_id"`
	SessionID uuid.UUID              `json:"session_id"`
	FrameSeq  uint64                 `json:"frame_seq"`
	Timestamp time.Time              `json:"timestamp"`
	Event     tracking.CrossingEvent `json:"event"`
	BatchKey  string                 `json:"batch_key,omitempty"`
}

// ToCrossing converts a worker result into its stored form.
func (r CrossingResult) ToCrossing() *Crossing {
	return &Crossing{
		StreamID:  r.StreamID,
		SessionID: r.SessionID,
		TrackID:   r.Event.TrackID,
		Direction: r.Event.Direction,
		Timestamp: r.Timestamp,
		FrameSeq:  r.FrameSeq,
		FromX:     r.Event.From.X,
		ToX:       r.Event.To.X,
		Y:         r.Event.To.Y,
		BatchKey:  r.BatchKey,
	}
}
