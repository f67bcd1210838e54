package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/pcount/internal/config"
	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/tracking"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Streams ---

const streamColumns = `id, name, detector_url, frame_width, frame_interval_ms, status, session_id, error_message, created_at, updated_at`

func scanStream(row pgx.Row) (*models.Stream, error) {
	var st models.Stream
	err := row.Scan(&st.ID, &st.Name, &st.DetectorURL, &st.FrameWidth, &st.FrameIntervalMS,
		&st.Status, &st.SessionID, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) CreateStream(ctx context.Context, st *models.Stream) error {
	st.ID = uuid.New()
	if st.Status == "" {
		st.Status = models.StreamStatusStopped
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO streams (id, name, detector_url, frame_width, frame_interval_ms, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		st.ID, st.Name, st.DetectorURL, st.FrameWidth, st.FrameIntervalMS, st.Status,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st, err := scanStream(s.pool.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, *st)
	}
	return streams, rows.Err()
}

func (s *PostgresStore) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update stream status: %w", err)
	}
	return nil
}

// StartSession marks the stream as starting and records the session id the
// ingestor will stamp on its frames.
func (s *PostgresStore) StartSession(ctx context.Context, id, sessionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, session_id = $2, error_message = '', updated_at = now() WHERE id = $3`,
		models.StreamStatusStarting, sessionID, id)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteStream(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Crossings ---

// CreateCrossing stores a crossing. Redelivered events (same session, track
// and direction) are ignored.
func (s *PostgresStore) CreateCrossing(ctx context.Context, c *models.Crossing) (bool, error) {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO crossings (id, stream_id, session_id, track_id, direction, timestamp, frame_seq, from_x, to_x, y, batch_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (session_id, track_id) DO NOTHING`,
		c.ID, c.StreamID, c.SessionID, c.TrackID, c.Direction, c.Timestamp,
		int64(c.FrameSeq), c.FromX, c.ToX, c.Y, c.BatchKey, c.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create crossing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CrossingFilter narrows QueryCrossings.
type CrossingFilter struct {
	From      *time.Time
	To        *time.Time
	Direction tracking.Direction
	SessionID *uuid.UUID
	Limit     int
	Offset    int
}

func (s *PostgresStore) QueryCrossings(ctx context.Context, streamID uuid.UUID, f CrossingFilter) ([]models.Crossing, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	baseWhere := "WHERE stream_id = $1"
	args := []interface{}{streamID}
	argIdx := 2

	if f.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}
	if f.Direction != "" {
		baseWhere += fmt.Sprintf(" AND direction = $%d", argIdx)
		args = append(args, f.Direction)
		argIdx++
	}
	if f.SessionID != nil {
		baseWhere += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, *f.SessionID)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM crossings "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count crossings: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, stream_id, session_id, track_id, direction, timestamp, frame_seq, from_x, to_x, y, batch_key, created_at
		 FROM crossings %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query crossings: %w", err)
	}
	defer rows.Close()

	var crossings []models.Crossing
	for rows.Next() {
		c, err := scanCrossing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan crossing: %w", err)
		}
		crossings = append(crossings, *c)
	}
	return crossings, total, rows.Err()
}

// GetCrossing returns a single crossing by ID.
func (s *PostgresStore) GetCrossing(ctx context.Context, id uuid.UUID) (*models.Crossing, error) {
	c, err := scanCrossing(s.pool.QueryRow(ctx,
		`SELECT id, stream_id, session_id, track_id, direction, timestamp, frame_seq, from_x, to_x, y, batch_key, created_at
		 FROM crossings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get crossing: %w", err)
	}
	return c, nil
}

func scanCrossing(row pgx.Row) (*models.Crossing, error) {
	var c models.Crossing
	var seq int64
	if err := row.Scan(&c.ID, &c.StreamID, &c.SessionID, &c.TrackID, &c.Direction, &c.Timestamp,
		&seq, &c.FromX, &c.ToX, &c.Y, &c.BatchKey, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.FrameSeq = uint64(seq)
	return &c, nil
}
