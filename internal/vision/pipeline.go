package vision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/pcount/internal/config"
	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/observability"
	"github.com/your-org/pcount/internal/tracking"
)

// EventPublisher delivers crossing results downstream. msgID is stable for a
// given crossing so redelivered frames do not publish it twice.
type EventPublisher interface {
	PublishEvent(ctx context.Context, streamID, msgID string, data interface{}) error
}

// EventMsgID identifies the crossing of trackID within a session. An identity
// crosses at most once, so the pair is unique.
func EventMsgID(sessionID uuid.UUID, trackID int) string {
	return fmt.Sprintf("%s-t%d", sessionID, trackID)
}

// ReorderWindow is how many out-of-order frames a session holds while it
// waits for a missing seq. Once that many are waiting the gap is skipped.
const ReorderWindow = 8

// session is the tracking state of one run of one stream. Frames of a
// session are applied one at a time, in sequence order.
type session struct {
	mu       sync.Mutex
	id       uuid.UUID
	tracker  *tracking.Tracker
	lastSeq  uint64
	lastSeen time.Time
	pending  map[uint64]models.FrameTask // frames ahead of lastSeq+1
	outbox   []models.CrossingResult     // crossings not yet published
}

// Pipeline turns frame tasks into crossing events:
// filter → track → emit event.
type Pipeline struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session // per-stream
	producer EventPublisher
	cfg      config.TrackingConfig
	now      func() time.Time
}

func NewPipeline(cfg config.TrackingConfig, producer EventPublisher) *Pipeline {
	return &Pipeline{
		sessions: make(map[uuid.UUID]*session),
		producer: producer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProcessFrame runs one frame of detections through the stream's tracker and
// publishes a CrossingResult per crossing.
//
// Frames are applied in seq order. A frame ahead of the next expected seq is
// held until the gap fills or ReorderWindow frames are waiting. Frames at or
// below the last applied seq, or of an older session, are dropped. Seq 0
// marks an unsequenced task and is applied only before any sequenced frame.
//
// Crossings that fail to publish stay queued on the session and are retried
// on the next call for the stream; the error is returned so the frame is
// redelivered.
func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	streamID := task.StreamID.String()

	sess := p.session(task.StreamID, task.SessionID)
	if sess == nil {
		observability.FramesDropped.WithLabelValues(streamID).Inc()
		slog.Debug("frame from superseded session dropped", "stream_id", streamID, "session_id", task.SessionID, "seq", task.Seq)
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch {
	case task.Seq == 0 && sess.lastSeq == 0:
		if err := p.apply(sess, task); err != nil {
			return err
		}
	case task.Seq <= sess.lastSeq:
		observability.FramesDropped.WithLabelValues(streamID).Inc()
		slog.Debug("stale frame dropped", "stream_id", streamID, "seq", task.Seq, "last_seq", sess.lastSeq)
	case sess.lastSeq == 0 || task.Seq == sess.lastSeq+1:
		if err := p.apply(sess, task); err != nil {
			return err
		}
		if err := p.drain(sess); err != nil {
			return err
		}
	default:
		sess.pending[task.Seq] = task
		if len(sess.pending) >= ReorderWindow {
			if err := p.skipGap(sess, streamID); err != nil {
				return err
			}
		}
	}

	return p.flush(ctx, sess, streamID)
}

// apply runs task through the session's tracker and queues its crossings.
// Seq 0 tasks leave lastSeq untouched.
func (p *Pipeline) apply(sess *session, task models.FrameTask) error {
	streamID := task.StreamID.String()

	width := task.Width
	if width <= 0 {
		width = p.cfg.FrameWidth
	}

	start := time.Now()
	centroids := tracking.FilterCentroids(task.Detections, p.cfg.TrackedClass)
	events, err := sess.tracker.Update(tracking.Positions(centroids), float64(width))
	if err != nil {
		return fmt.Errorf("update tracker: %w", err)
	}
	observability.StageDuration.WithLabelValues("track").Observe(time.Since(start).Seconds())

	if task.Seq != 0 {
		sess.lastSeq = task.Seq
	}

	observability.FramesProcessed.WithLabelValues(streamID).Inc()
	observability.DetectionsTracked.WithLabelValues(streamID).Add(float64(len(centroids)))
	observability.ActiveIdentities.WithLabelValues(streamID).Set(float64(sess.tracker.Len()))

	for _, ev := range events {
		observability.Crossings.WithLabelValues(streamID, string(ev.Direction)).Inc()
		slog.Info("crossing",
			"stream_id", streamID,
			"track_id", ev.TrackID,
			"direction", ev.Direction,
			"seq", task.Seq,
		)
		sess.outbox = append(sess.outbox, models.CrossingResult{
			StreamID:  task.StreamID,
			SessionID: task.SessionID,
			FrameSeq:  task.Seq,
			Timestamp: task.Timestamp,
			Event:     ev,
			BatchKey:  task.BatchKey,
		})
	}
	return nil
}

// drain applies held frames that directly follow lastSeq.
func (p *Pipeline) drain(sess *session) error {
	for {
		next, ok := sess.pending[sess.lastSeq+1]
		if !ok {
			return nil
		}
		delete(sess.pending, next.Seq)
		if err := p.apply(sess, next); err != nil {
			return err
		}
	}
}

// skipGap gives up on the missing frames before the oldest held one.
func (p *Pipeline) skipGap(sess *session, streamID string) error {
	oldest := uint64(0)
	for seq := range sess.pending {
		if oldest == 0 || seq < oldest {
			oldest = seq
		}
	}
	missing := oldest - sess.lastSeq - 1
	observability.FramesDropped.WithLabelValues(streamID).Add(float64(missing))
	slog.Warn("frames missing, skipping gap", "stream_id", streamID, "from_seq", sess.lastSeq+1, "missing", missing)

	sess.lastSeq = oldest - 1
	return p.drain(sess)
}

// flush publishes queued crossings in order, stopping at the first failure.
func (p *Pipeline) flush(ctx context.Context, sess *session, streamID string) error {
	for len(sess.outbox) > 0 {
		result := sess.outbox[0]
		msgID := EventMsgID(result.SessionID, result.Event.TrackID)
		if err := p.producer.PublishEvent(ctx, streamID, msgID, result); err != nil {
			return fmt.Errorf("publish crossing %s: %w", msgID, err)
		}
		sess.outbox = sess.outbox[1:]
	}
	return nil
}

// session returns the state for streamID, replacing it when sessionID is
// newer than the one held. Session ids are UUIDv7, so byte order is start
// order. It returns nil when sessionID is older than the current session.
func (p *Pipeline) session(streamID, sessionID uuid.UUID) *session {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if s, ok := p.sessions[streamID]; ok {
		switch c := bytes.Compare(sessionID[:], s.id[:]); {
		case c == 0:
			s.lastSeen = now
			return s
		case c < 0:
			return nil
		}
		slog.Info("new tracking session", "stream_id", streamID, "session_id", sessionID, "previous", s.id)
	}

	s := &session{
		id:       sessionID,
		tracker:  tracking.NewTracker(p.cfg.DistanceThreshold),
		lastSeen: now,
		pending:  make(map[uint64]models.FrameTask),
	}
	p.sessions[streamID] = s
	return s
}

// Prune discards sessions that have not received a frame for longer than idle.
// It returns the number of sessions removed.
func (p *Pipeline) Prune(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-idle)
	removed := 0
	for id, s := range p.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(p.sessions, id)
			observability.ActiveIdentities.DeleteLabelValues(id.String())
			removed++
		}
	}
	return removed
}

// Identities returns the identities currently tracked for streamID.
func (p *Pipeline) Identities(streamID uuid.UUID) []tracking.Identity {
	p.mu.Lock()
	s, ok := p.sessions[streamID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Identities()
}
