package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/pcount/internal/ingest"
	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/storage"
	"github.com/your-org/pcount/internal/tracking"
	"github.com/your-org/pcount/pkg/dto"
)

type StreamHandler struct {
	db       StreamStore
	producer ControlPublisher
	tallies  *tracking.Tallies
}

func NewStreamHandler(db StreamStore, producer ControlPublisher, tallies *tracking.Tallies) *StreamHandler {
	return &StreamHandler{db: db, producer: producer, tallies: tallies}
}

func (h *StreamHandler) Create(c *gin.Context) {
	var req dto.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st := &models.Stream{
		Name:            req.Name,
		DetectorURL:     req.DetectorURL,
		FrameWidth:      req.FrameWidth,
		FrameIntervalMS: req.FrameIntervalMS,
	}

	if err := h.db.CreateStream(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, streamToResponse(st))
}

func (h *StreamHandler) Get(c *gin.Context) {
	st, ok := h.loadStream(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, streamToResponse(st))
}

func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.db.ListStreams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StreamResponse, 0, len(streams))
	for i := range streams {
		resp = append(resp, streamToResponse(&streams[i]))
	}

	c.JSON(http.StatusOK, dto.StreamListResponse{Streams: resp, Total: len(resp)})
}

// Start opens a new counting session for the stream and asks the ingestor to
// begin polling its detector. Counts restart from zero.
func (h *StreamHandler) Start(c *gin.Context) {
	st, ok := h.loadStream(c)
	if !ok {
		return
	}

	if st.Status == models.StreamStatusRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "stream already running"})
		return
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.StartSession(c.Request.Context(), st.ID, sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.tallies.Begin(st.ID, sessionID)

	cmd := ingest.StreamCommand{
		Action:          ingest.ActionStart,
		StreamID:        st.ID.String(),
		SessionID:       sessionID,
		DetectorURL:     st.DetectorURL,
		FrameWidth:      st.FrameWidth,
		FrameIntervalMS: st.FrameIntervalMS,
	}
	if err := h.publish(cmd); err != nil {
		slog.Error("publish start command", "stream_id", st.ID, "error", err)
		_ = h.db.UpdateStreamStatus(c.Request.Context(), st.ID, models.StreamStatusError, "failed to publish start command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send start command"})
		return
	}

	c.JSON(http.StatusOK, dto.StreamActionResponse{
		Status:    string(models.StreamStatusStarting),
		StreamID:  st.ID,
		SessionID: &sessionID,
	})
}

func (h *StreamHandler) Stop(c *gin.Context) {
	st, ok := h.loadStream(c)
	if !ok {
		return
	}

	if err := h.publish(ingest.StreamCommand{Action: ingest.ActionStop, StreamID: st.ID.String()}); err != nil {
		slog.Warn("publish stop command", "stream_id", st.ID, "error", err)
	}

	if err := h.db.UpdateStreamStatus(c.Request.Context(), st.ID, models.StreamStatusStopped, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.StreamActionResponse{
		Status:   string(models.StreamStatusStopped),
		StreamID: st.ID,
	})
}

func (h *StreamHandler) Delete(c *gin.Context) {
	st, ok := h.loadStream(c)
	if !ok {
		return
	}

	if st.Status != models.StreamStatusStopped {
		_ = h.publish(ingest.StreamCommand{Action: ingest.ActionStop, StreamID: st.ID.String()})
	}

	if err := h.db.DeleteStream(c.Request.Context(), st.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.tallies.Reset(st.ID)

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Counts returns the live totals of the stream's current session.
func (h *StreamHandler) Counts(c *gin.Context) {
	st, ok := h.loadStream(c)
	if !ok {
		return
	}

	tally := h.tallies.Get(st.ID)
	if st.SessionID != nil && tally.SessionID != *st.SessionID {
		tally = tracking.Tally{SessionID: *st.SessionID}
	}

	c.JSON(http.StatusOK, ToCountsResponse(st.ID, tally))
}

func (h *StreamHandler) publish(cmd ingest.StreamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return h.producer.PublishControl(data)
}

// loadStream resolves the :id parameter, writing the error response itself
// when the stream cannot be returned.
func (h *StreamHandler) loadStream(c *gin.Context) (*models.Stream, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return nil, false
	}

	st, err := h.db.GetStream(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return st, true
}

func streamToResponse(st *models.Stream) dto.StreamResponse {
	return dto.StreamResponse{
		ID:              st.ID,
		Name:            st.Name,
		DetectorURL:     st.DetectorURL,
		FrameWidth:      st.FrameWidth,
		FrameIntervalMS: st.FrameIntervalMS,
		Status:          string(st.Status),
		SessionID:       st.SessionID,
		ErrorMessage:    st.ErrorMessage,
		CreatedAt:       st.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ToCountsResponse renders a tally as the counts payload.
func ToCountsResponse(streamID uuid.UUID, t tracking.Tally) dto.CountsResponse {
	resp := dto.CountsResponse{
		StreamID: streamID,
		Entered:  t.Entered,
		Exited:   t.Exited,
		Inside:   t.Inside(),
	}
	if t.SessionID != uuid.Nil {
		sid := t.SessionID
		resp.SessionID = &sid
	}
	return resp
}
