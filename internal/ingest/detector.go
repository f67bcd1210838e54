package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/your-org/pcount/internal/tracking"
)

// FrameDetections is the detector's answer for the most recent frame of a feed.
type FrameDetections struct {
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Detections []tracking.Detection `json:"detections"`
}

// Detector fetches the detections of the current frame from url.
type Detector interface {
	Detect(ctx context.Context, url string) (*FrameDetections, error)
}

// HTTPDetector polls detector endpoints over HTTP.
type HTTPDetector struct {
	client *resty.Client
}

func NewHTTPDetector(timeout time.Duration) *HTTPDetector {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPDetector{client: client}
}

func (d *HTTPDetector) Detect(ctx context.Context, url string) (*FrameDetections, error) {
	var out FrameDetections
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detector returned %s: %s", resp.Status(), truncate(resp.String(), 256))
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
