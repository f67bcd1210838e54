package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/storage"
)

// StreamStore is the stream persistence used by the handlers.
type StreamStore interface {
	CreateStream(ctx context.Context, st *models.Stream) error
	GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	ListStreams(ctx context.Context) ([]models.Stream, error)
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
	StartSession(ctx context.Context, id, sessionID uuid.UUID) error
	DeleteStream(ctx context.Context, id uuid.UUID) error
}

// CrossingStore is the crossing history used by the handlers.
type CrossingStore interface {
	QueryCrossings(ctx context.Context, streamID uuid.UUID, f storage.CrossingFilter) ([]models.Crossing, int, error)
	GetCrossing(ctx context.Context, id uuid.UUID) (*models.Crossing, error)
}

// ObjectReader reads archived detection batches.
type ObjectReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ControlPublisher sends start/stop commands to the ingestor.
type ControlPublisher interface {
	PublishControl(data []byte) error
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error
