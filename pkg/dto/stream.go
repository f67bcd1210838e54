package dto

import (
	"github.com/google/uuid"
)

type CreateStreamRequest struct {
	Name            string `json:"name" binding:"required"`
	DetectorURL     string `json:"detector_url" binding:"required,url"`
	FrameWidth      int    `json:"frame_width" binding:"gte=0"`
	FrameIntervalMS int    `json:"frame_interval_ms" binding:"gte=0"`
}

type StreamResponse struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	DetectorURL     string     `json:"detector_url"`
	FrameWidth      int        `json:"frame_width"`
	FrameIntervalMS int        `json:"frame_interval_ms"`
	Status          string     `json:"status"`
	SessionID       *uuid.UUID `json:"session_id,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}

type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Total   int              `json:"total"`
}

// StreamActionResponse answers start/stop requests.
type StreamActionResponse struct {
	Status    string     `json:"status"`
	StreamID  uuid.UUID  `json:"stream_id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
}
