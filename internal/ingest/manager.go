package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/pcount/internal/config"
	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/observability"
	"github.com/your-org/pcount/internal/storage"
	"github.com/your-org/pcount/internal/tracking"
)

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// StreamCommand represents a start/stop command from the API.
type StreamCommand struct {
	Action          string    `json:"action"` // start, stop
	StreamID        string    `json:"stream_id"`
	SessionID       uuid.UUID `json:"session_id,omitempty"`
	DetectorURL     string    `json:"detector_url,omitempty"`
	FrameWidth      int       `json:"frame_width,omitempty"`
	FrameIntervalMS int       `json:"frame_interval_ms,omitempty"`
}

// FramePublisher hands frame tasks to the tracking workers.
type FramePublisher interface {
	PublishFrame(ctx context.Context, streamID, msgID string, data interface{}) error
}

// BatchArchiver stores raw detection batches.
type BatchArchiver interface {
	PutJSON(ctx context.Context, key string, v interface{}) error
}

// StatusStore persists stream status transitions.
type StatusStore interface {
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
}

type activeStream struct {
	cancel    context.CancelFunc
	sessionID uuid.UUID
	done      chan struct{}
}

// Manager runs one detector polling loop per started stream.
type Manager struct {
	detector  Detector
	producer  FramePublisher
	archive   BatchArchiver // nil disables archiving
	db        StatusStore
	cfg       config.DetectorConfig
	defWidth  int
	newTicker func(d time.Duration) (<-chan time.Time, func())

	mu      sync.RWMutex
	streams map[string]*activeStream
}

func NewManager(detector Detector, producer FramePublisher, archive BatchArchiver, db StatusStore, cfg config.DetectorConfig, frameWidth int) *Manager {
	return &Manager{
		detector: detector,
		producer: producer,
		archive:  archive,
		db:       db,
		cfg:      cfg,
		defWidth: frameWidth,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		streams: make(map[string]*activeStream),
	}
}

// HandleCommand processes a stream control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd StreamCommand) error {
	switch cmd.Action {
	case ActionStart:
		return m.startStream(ctx, cmd)
	case ActionStop:
		return m.stopStream(cmd.StreamID)
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

func (m *Manager) startStream(ctx context.Context, cmd StreamCommand) error {
	streamID, err := uuid.Parse(cmd.StreamID)
	if err != nil {
		return fmt.Errorf("invalid stream id %q: %w", cmd.StreamID, err)
	}
	if cmd.DetectorURL == "" {
		return fmt.Errorf("stream %s: detector url is required", cmd.StreamID)
	}

	sessionID := cmd.SessionID
	if sessionID == uuid.Nil {
		if sessionID, err = uuid.NewV7(); err != nil {
			return fmt.Errorf("mint session id: %w", err)
		}
	}

	// A start for a running stream restarts it under the new session.
	m.mu.RLock()
	prev, exists := m.streams[cmd.StreamID]
	m.mu.RUnlock()
	if exists {
		if prev.sessionID == sessionID {
			return nil
		}
		prev.cancel()
		<-prev.done
	}

	interval := m.cfg.FrameInterval
	if cmd.FrameIntervalMS > 0 {
		interval = time.Duration(cmd.FrameIntervalMS) * time.Millisecond
	}

	streamCtx, cancel := context.WithCancel(ctx)
	as := &activeStream{
		cancel:    cancel,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.streams[cmd.StreamID] = as
	m.mu.Unlock()

	observability.ActiveStreams.Inc()
	m.updateStatus(streamID, models.StreamStatusRunning, "")

	slog.Info("starting stream ingestion",
		"stream_id", cmd.StreamID,
		"session_id", sessionID,
		"detector_url", cmd.DetectorURL,
		"interval", interval,
	)

	go func() {
		defer close(as.done)
		defer func() {
			m.mu.Lock()
			if m.streams[cmd.StreamID] == as {
				delete(m.streams, cmd.StreamID)
			}
			m.mu.Unlock()
			observability.ActiveStreams.Dec()
			slog.Info("stream ingestion stopped", "stream_id", cmd.StreamID, "session_id", sessionID)
		}()

		if err := m.run(streamCtx, streamID, sessionID, cmd, interval); err != nil {
			slog.Error("stream ingestion failed", "stream_id", cmd.StreamID, "error", err)
			m.updateStatus(streamID, models.StreamStatusError, err.Error())
			return
		}
		m.updateStatus(streamID, models.StreamStatusStopped, "")
	}()

	return nil
}

// run polls the detector every interval until ctx is cancelled or the
// detector has failed more than MaxFailures times in a row.
func (m *Manager) run(ctx context.Context, streamID, sessionID uuid.UUID, cmd StreamCommand, interval time.Duration) error {
	tick, stop := m.newTicker(interval)
	defer stop()

	var (
		seq      uint64
		failures int
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}

		err := m.pollOnce(ctx, streamID, sessionID, seq+1, cmd)
		if err == nil {
			seq++
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		observability.DetectorErrors.WithLabelValues(streamID.String()).Inc()
		slog.Warn("detector poll failed",
			"stream_id", streamID,
			"failures", failures,
			"error", err,
		)
		if m.cfg.MaxFailures > 0 && failures > m.cfg.MaxFailures {
			return fmt.Errorf("detector failed %d times in a row: %w", failures, err)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, streamID, sessionID uuid.UUID, seq uint64, cmd StreamCommand) error {
	start := time.Now()
	reqCtx := ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	frame, err := m.detector.Detect(reqCtx, cmd.DetectorURL)
	if err != nil {
		return err
	}
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	width := cmd.FrameWidth
	if width <= 0 {
		width = frame.Width
	}
	if width <= 0 {
		width = m.defWidth
	}

	task := models.FrameTask{
		StreamID:   streamID,
		SessionID:  sessionID,
		Seq:        seq,
		Timestamp:  time.Now().UTC(),
		Width:      width,
		Height:     frame.Height,
		Detections: tracking.MinScore(frame.Detections, m.cfg.MinScore),
	}

	if m.archive != nil {
		key := storage.BatchKey(streamID, sessionID, seq)
		if err := m.archive.PutJSON(ctx, key, task); err != nil {
			// The frame is still tracked; only its archive copy is lost.
			slog.Warn("archive batch", "stream_id", streamID, "key", key, "error", err)
		} else {
			task.BatchKey = key
		}
	}

	msgID := sessionID.String() + "-" + strconv.FormatUint(seq, 10)
	if err := m.producer.PublishFrame(ctx, streamID.String(), msgID, task); err != nil {
		return fmt.Errorf("publish frame task: %w", err)
	}

	observability.FramesPublished.WithLabelValues(streamID.String()).Inc()
	return nil
}

func (m *Manager) stopStream(streamID string) error {
	m.mu.RLock()
	as, exists := m.streams[streamID]
	m.mu.RUnlock()

	if !exists {
		return nil // Already stopped
	}

	as.cancel()
	<-as.done

	slog.Info("stream stopped", "stream_id", streamID)
	return nil
}

func (m *Manager) updateStatus(id uuid.UUID, status models.StreamStatus, errMsg string) {
	if m.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.db.UpdateStreamStatus(ctx, id, status, errMsg); err != nil {
		slog.Error("update stream status", "stream_id", id, "error", err)
	}
}

// ActiveCount returns the number of currently running streams.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// ActiveStreams returns the ids of the running streams.
func (m *Manager) ActiveStreams() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops all running streams.
func (m *Manager) StopAll() {
	for _, id := range m.ActiveStreams() {
		_ = m.stopStream(id)
	}
}

// ParseCommand parses a NATS message into a StreamCommand.
func ParseCommand(data []byte) (StreamCommand, error) {
	var cmd StreamCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	return cmd, nil
}
