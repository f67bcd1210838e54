package models

import (
	"time"

	"github.com/google/uuid"
)

type StreamStatus string

const (
	StreamStatusStopped  StreamStatus = "stopped"
	StreamStatusStarting StreamStatus = "starting"
	StreamStatusRunning  StreamStatus = "running"
	StreamStatusError    StreamStatus = "error"
)

// Stream is one camera feed whose detections are polled from an external
// detector endpoint and counted against the frame's center line.
type Stream struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	Name            string       `json:"name" db:"name"`
	DetectorURL     string       `json:"detector_url" db:"detector_url"`
	FrameWidth      int          `json:"frame_width" db:"frame_width"`             // 0: use the width reported by the detector
	FrameIntervalMS int          `json:"frame_interval_ms" db:"frame_interval_ms"` // polling period
	Status          StreamStatus `json:"status" db:"status"`
	SessionID       *uuid.UUID   `json:"session_id,omitempty" db:"session_id"`
	ErrorMessage    string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// FrameInterval returns the polling period, falling back to def when unset.
func (s *Stream) FrameInterval(def time.Duration) time.Duration {
	if s.FrameIntervalMS <= 0 {
		return def
	}
	return time.Duration(s.FrameIntervalMS) * time.Millisecond
}
