package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// ErrPermanent marks a handler failure that redelivery cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the message is terminated instead of redelivered.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// subscription describes one durable pull consumer and how it is drained.
type subscription struct {
	stream  string
	kind    string // log label
	workers int
	fetch   int
	wait    time.Duration
	config  jetstream.ConsumerConfig
}

// ConsumeFrames starts consuming frame tasks from the FRAMES stream.
// workerCount goroutines run handler concurrently. Every subject is bound to
// one worker, so frames of a stream are handled one at a time in fetch order.
func (c *Consumer) ConsumeFrames(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	return c.consume(ctx, subscription{
		stream:  FramesStreamName,
		kind:    "frame",
		workers: workerCount,
		fetch:   workerCount * 4,
		wait:    time.Second,
		config: jetstream.ConsumerConfig{
			Name:          consumerName,
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       10 * time.Second,
			MaxDeliver:    2,
			FilterSubject: FramesSubjectBase + ".>",
		},
	}, handler)
}

// ConsumeEvents starts consuming crossing events on a single goroutine, so
// events are handled in stream order.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler MessageHandler) error {
	return c.consume(ctx, subscription{
		stream:  EventsStreamName,
		kind:    "event",
		workers: 1,
		fetch:   10,
		wait:    5 * time.Second,
		config: jetstream.ConsumerConfig{
			Name:          consumerName,
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       10 * time.Second,
			MaxDeliver:    5,
			FilterSubject: EventsSubjectBase + ".>",
			DeliverPolicy: jetstream.DeliverNewPolicy,
		},
	}, handler)
}

func (c *Consumer) consume(ctx context.Context, sub subscription, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, sub.stream)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", sub.stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, sub.config)
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", sub.config.Name, err)
	}

	queues := make([]chan jetstream.Msg, sub.workers)
	for i := range queues {
		queues[i] = make(chan jetstream.Msg, sub.fetch)
	}

	go func() {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(sub.fetch, jetstream.FetchMaxWait(sub.wait))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch error", "kind", sub.kind, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case queues[partition(msg.Subject(), sub.workers)] <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i, q := range queues {
		go func(workerID int, msgs <-chan jetstream.Msg) {
			for msg := range msgs {
				settle(msg, handler(ctx, msg), sub.kind, workerID)
			}
		}(i, q)
	}

	slog.Info("consumer started", "kind", sub.kind, "consumer", sub.config.Name, "workers", sub.workers)
	return nil
}

// partition maps subject to one of n workers.
func partition(subject string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(subject) % uint64(n))
}

// settle acknowledges msg according to the handler's result: success acks,
// a Permanent error terminates, anything else asks for redelivery.
func settle(msg jetstream.Msg, err error, kind string, workerID int) {
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrPermanent):
		slog.Error("message rejected", "kind", kind, "worker", workerID, "error", err, "subject", msg.Subject())
		_ = msg.Term()
	default:
		slog.Error("message failed, will retry", "kind", kind, "worker", workerID, "error", err, "subject", msg.Subject())
		_ = msg.Nak()
	}
}

func (c *Consumer) Close() {
	c.nc.Close()
}
