package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stemsi/examroom/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetProgress godoc
// GET /api/v1/admin/exams/:id/progress
// One-off monitor snapshot for clients that do not hold an event stream.
func (h *MonitorHandler) GetProgress(c *gin.Context) {
	examID, ok := validator.UUIDParam(c, "id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if _, err := h.examService.GetByID(c.Request.Context(), examID); err != nil {
		failFromError(c, err)
		return
	}

	progress, err := h.monitorService.GetProgress(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, progress)
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Streams a progress snapshot, then every joined, violation, submitted
// and abandoned event, with a periodic refresh.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := validator.UUIDParam(c, "id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}

	reqCtx := c.Request.Context()
	log := h.log.With().Str("exam_id", examID.String()).Logger()

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID))
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, examID, gin.H{
		"id":                  exam.ID,
		"title":               exam.Title,
		"duration_in_minutes": exam.DurationInMinutes,
	})

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	log.Info().Msg("Admin attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Admin disconnected from live monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				log.Warn().Msg("Monitor subscription closed")
				return
			}
			// Events are published as JSON already.
			writeSSE(c, []byte(msg.Payload))

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, examID, nil)

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

// sendSnapshot writes the merged live and stored progress. The first
// snapshot of a stream also carries the exam header.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, examID uuid.UUID, exam gin.H) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch exam progress")
		return
	}

	payload := gin.H{"type": "refresh", "data": progress}
	if exam != nil {
		payload["type"] = "snapshot"
		payload["exam"] = exam
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	writeSSE(c, data)
}

func writeSSE(c *gin.Context, data []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
