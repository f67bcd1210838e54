package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	FramesStreamName  = "FRAMES"
	FramesSubjectBase = "frames"
	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "events"

	// ControlSubject carries start/stop commands for the ingestor (core NATS, not JetStream).
	ControlSubject = "stream.control"
)

// FrameSubject is the subject frame tasks of streamID are published on.
func FrameSubject(streamID string) string {
	return FramesSubjectBase + "." + streamID
}

// EventSubject is the subject crossing events of streamID are published on.
func EventSubject(streamID string) string {
	return EventsSubjectBase + "." + streamID
}

// StreamConfigs returns the JetStream streams the services rely on.
// Frames are short-lived work items; events are kept a day for late consumers.
func StreamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        FramesStreamName,
			Subjects:    []string{FramesSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      time.Minute, // a frame older than this is useless for tracking
			MaxMsgs:     100000,
			MaxBytes:    256 * 1024 * 1024,
			Storage:     jetstream.MemoryStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Per-frame detection batches for tracking workers",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Center line crossing events",
		},
	}
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates or updates the JetStream streams, retrying once a
// second for up to 30 attempts while the server starts.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30

	pending := StreamConfigs()
	for attempt := 1; ; attempt++ {
		var failed []jetstream.StreamConfig
		var lastErr error
		for _, cfg := range pending {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				failed = append(failed, cfg)
				lastErr = fmt.Errorf("create stream %s: %w", cfg.Name, err)
				continue
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if len(failed) == 0 {
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w (after %d attempts)", lastErr, maxAttempts)
		}
		slog.Warn("ensure NATS streams, retrying", "attempt", attempt, "error", lastErr)
		pending = failed

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// publish marshals data to JSON and publishes it on subject. A non-empty
// msgID lets JetStream drop duplicates within the stream's window.
func (p *Producer) publish(ctx context.Context, subject, msgID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}

	ack, err := p.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return err
	}
	if ack.Duplicate {
		slog.Debug("duplicate publish ignored", "subject", subject, "msg_id", msgID)
	}
	return nil
}

// PublishFrame publishes a frame task of streamID.
func (p *Producer) PublishFrame(ctx context.Context, streamID, msgID string, data interface{}) error {
	if err := p.publish(ctx, FrameSubject(streamID), msgID, data); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// PublishEvent publishes a crossing event of streamID.
func (p *Producer) PublishEvent(ctx context.Context, streamID, msgID string, data interface{}) error {
	if err := p.publish(ctx, EventSubject(streamID), msgID, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the FRAMES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, FramesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

// PublishControl publishes a start/stop command on ControlSubject.
func (p *Producer) PublishControl(data []byte) error {
	return p.nc.Publish(ControlSubject, data)
}

// SubscribeControl registers handler for commands on ControlSubject.
func (p *Producer) SubscribeControl(handler func(data []byte)) (*nats.Subscription, error) {
	return p.nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

var errNotConnected = errors.New("nats not connected")

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return errNotConnected
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
