package dto

import "github.com/google/uuid"

type CrossingResponse struct {
	ID        uuid.UUID `json:"id"`
	StreamID  uuid.UUID `json:"stream_id"`
	SessionID uuid.UUID `json:"session_id"`
	TrackID   int       `json:"track_id"`
	Direction string    `json:"direction"`
	Timestamp string    `json:"timestamp"`
	FrameSeq  uint64    `json:"frame_seq"`
	FromX     float64   `json:"from_x"`
	ToX       float64   `json:"to_x"`
	Y         float64   `json:"y"`
	FrameURL  string    `json:"frame_url,omitempty"`
	CreatedAt string    `json:"created_at"`
}

type CrossingListResponse struct {
	Crossings []CrossingResponse `json:"crossings"`
	Total     int                `json:"total"`
}

type CrossingQuery struct {
	From      string `form:"from"`
	To        string `form:"to"`
	Direction string `form:"direction"`
	SessionID string `form:"session_id"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// CountsResponse is the live tally of a stream's current session.
type CountsResponse struct {
	StreamID  uuid.UUID  `json:"stream_id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Entered   int        `json:"entered"`
	Exited    int        `json:"exited"`
	Inside    int        `json:"inside"`
}

// WSEvent is a WebSocket message for real-time event delivery.
type WSEvent struct {
	Type     string            `json:"type"` // crossing, stream_status
	StreamID uuid.UUID         `json:"stream_id"`
	Crossing *CrossingResponse `json:"crossing,omitempty"`
	Counts   *CountsResponse   `json:"counts,omitempty"`
	Status   string            `json:"status,omitempty"`
}
