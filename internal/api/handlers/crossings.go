package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/pcount/internal/models"
	"github.com/your-org/pcount/internal/storage"
	"github.com/your-org/pcount/internal/tracking"
	"github.com/your-org/pcount/pkg/dto"
)

type CrossingHandler struct {
	db    CrossingStore
	minio ObjectReader
}

func NewCrossingHandler(db CrossingStore, minio ObjectReader) *CrossingHandler {
	return &CrossingHandler{db: db, minio: minio}
}

func (h *CrossingHandler) List(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	var q dto.CrossingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := parseCrossingQuery(q)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	crossings, total, err := h.db.QueryCrossings(c.Request.Context(), streamID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.CrossingResponse, 0, len(crossings))
	for i := range crossings {
		resp = append(resp, ToCrossingResponse(&crossings[i]))
	}

	c.JSON(http.StatusOK, dto.CrossingListResponse{Crossings: resp, Total: total})
}

// Frame returns the archived detection batch the crossing was computed from.
func (h *CrossingHandler) Frame(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid crossing id"})
		return
	}

	cr, err := h.db.GetCrossing(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "crossing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cr.BatchKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not archived"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), cr.BatchKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// ToCrossingResponse renders a stored crossing.
func ToCrossingResponse(cr *models.Crossing) dto.CrossingResponse {
	r := dto.CrossingResponse{
		ID:        cr.ID,
		StreamID:  cr.StreamID,
		SessionID: cr.SessionID,
		TrackID:   cr.TrackID,
		Direction: string(cr.Direction),
		Timestamp: cr.Timestamp.UTC().Format(time.RFC3339Nano),
		FrameSeq:  cr.FrameSeq,
		FromX:     cr.FromX,
		ToX:       cr.ToX,
		Y:         cr.Y,
		CreatedAt: cr.CreatedAt.UTC().Format(time.RFC3339),
	}
	if cr.BatchKey != "" {
		r.FrameURL = "/v1/crossings/" + cr.ID.String() + "/frame"
	}
	return r
}

func parseCrossingQuery(q dto.CrossingQuery) (storage.CrossingFilter, error) {
	f := storage.CrossingFilter{Limit: q.Limit, Offset: q.Offset}
	if q.Offset < 0 {
		return f, errors.New("offset must not be negative")
	}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			return f, errors.New("from must be an RFC 3339 timestamp")
		}
		f.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			return f, errors.New("to must be an RFC 3339 timestamp")
		}
		f.To = &t
	}
	if q.Direction != "" {
		dir := tracking.Direction(q.Direction)
		if !dir.Valid() {
			return f, errors.New("direction must be entered or exited")
		}
		f.Direction = dir
	}
	if q.SessionID != "" {
		id, err := uuid.Parse(q.SessionID)
		if err != nil {
			return f, errors.New("invalid session id")
		}
		f.SessionID = &id
	}
	return f, nil
}
