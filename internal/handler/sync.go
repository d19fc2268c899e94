package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"waternity/internal/client/mirror"
	"waternity/internal/ingest"
	"waternity/internal/repository"
)

type SyncHandler struct {
	Repo     repository.Repository
	Pipeline *ingest.Pipeline
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/sync")
	group.GET("/cursors", h.listCursors)
	group.POST("/topics/:topicId", h.syncTopic)
	group.POST("/topics/:topicId/reset-cursor", h.resetCursor)

	r.GET("/api/v1/events", h.listEvents)
}

func (h *SyncHandler) listCursors(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSyncCursors(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *SyncHandler) syncTopic(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	topicID := strings.TrimSpace(c.Param("topicId"))
	if topicID == "" {
		Error(c, http.StatusBadRequest, "invalid topic id", nil)
		return
	}
	pageLimit := intQuery(c, "page_limit", 0)
	result, err := h.Pipeline.SyncTopic(c.Request.Context(), topicID, pageLimit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

type resetCursorRequest struct {
	ConsensusNanos *int64 `json:"consensus_nanos"`
	// Timestamp is the mirror wire form "seconds.nanoseconds"; either field
	// selects the new position, nanos winning when both are present.
	Timestamp string `json:"timestamp"`
}

func (h *SyncHandler) resetCursor(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	topicID := strings.TrimSpace(c.Param("topicId"))
	if topicID == "" {
		Error(c, http.StatusBadRequest, "invalid topic id", nil)
		return
	}
	var req resetCursorRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	var newNanos int64
	switch {
	case req.ConsensusNanos != nil:
		newNanos = *req.ConsensusNanos
	case strings.TrimSpace(req.Timestamp) != "":
		parsed, err := mirror.ParseTimestamp(strings.TrimSpace(req.Timestamp))
		if err != nil {
			Error(c, http.StatusBadRequest, "timestamp must be seconds.nanoseconds", nil)
			return
		}
		newNanos = parsed
	default:
		// Omitting both rewinds to the beginning of the topic.
	}
	if err := h.Pipeline.ResetCursor(c.Request.Context(), topicID, newNanos); err != nil {
		if errors.Is(err, ingest.ErrNegativePosition) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	cursor, err := h.Repo.GetSyncCursor(c.Request.Context(), topicID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, cursor, nil)
}

func (h *SyncHandler) listEvents(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var topicID *string
	if v := strings.TrimSpace(c.Query("topic_id")); v != "" {
		topicID = &v
	}
	var eventType *string
	if v := strings.ToUpper(strings.TrimSpace(c.Query("type"))); v != "" {
		eventType = &v
	}
	params := repository.ListIngestedEventsParams{
		Limit:   limit,
		Offset:  offset,
		TopicID: topicID,
		Type:    eventType,
		OrderBy: "consensus_nanos",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListIngestedEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountIngestedEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
