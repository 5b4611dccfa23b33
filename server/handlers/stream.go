package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/models"
	"github.com/san-kum/damage-watch/server/processor"
)

const defaultDetectionLimit = 5

// SessionController is the part of processor.Session the HTTP surface drives.
type SessionController interface {
	Start(ctx context.Context) error
	Stop()
	Status() models.SessionStatus
	Alerts() []models.Alert
	Canvas() ([]byte, bool)
	Subscribe() (<-chan models.SessionStatus, func())
}

type StreamHandler struct {
	session SessionController
	logger  *zap.Logger

	mu        sync.RWMutex
	startedAt time.Time
	extras    map[string]func() any
}

func NewStreamHandler(session SessionController, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		session:   session,
		logger:    logger,
		startedAt: time.Now(),
		extras:    make(map[string]func() any),
	}
}

// WithStats adds a named section to the /stats response.
func (h *StreamHandler) WithStats(name string, fn func() any) *StreamHandler {
	h.mu.Lock()
	h.extras[name] = fn
	h.mu.Unlock()
	return h
}

func (h *StreamHandler) StartSession(c *gin.Context) {
	err := h.session.Start(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.session.Status())
	case errors.Is(err, processor.ErrAlreadyStreaming):
		c.JSON(http.StatusConflict, gin.H{"error": "Session is already streaming"})
	case errors.Is(err, processor.ErrCaptureUnavailable), errors.Is(err, processor.ErrSessionClosed):
		h.logger.Warn("Camera offline", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Camera unavailable",
			"status": h.session.Status(),
		})
	default:
		h.logger.Error("Failed to start session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
	}
}

func (h *StreamHandler) StopSession(c *gin.Context) {
	h.session.Stop()
	c.JSON(http.StatusOK, h.session.Status())
}

func (h *StreamHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status())
}

func (h *StreamHandler) GetAlerts(c *gin.Context) {
	alerts := h.session.Alerts()
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *StreamHandler) GetDetections(c *gin.Context) {
	limit := defaultDetectionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	status := h.session.Status()
	detections := status.Detections
	if len(detections) > limit {
		detections = detections[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"detections":   detections,
		"total":        status.DetectionCount,
		"damage_level": status.DamageLevel,
	})
}

func (h *StreamHandler) GetCanvas(c *gin.Context) {
	jpegData, ok := h.session.Canvas()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No frame rendered yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", jpegData)
}

func (h *StreamHandler) GetStats(c *gin.Context) {
	status := h.session.Status()

	var failureRate float64
	if attempts := status.Stats.FramesProcessed + status.Stats.FramesFailed; attempts > 0 {
		failureRate = float64(status.Stats.FramesFailed) / float64(attempts) * 100
	}

	response := gin.H{
		"session": status.Stats,
		"metrics": gin.H{
			"failure_rate":   failureRate,
			"uptime_seconds": time.Since(h.startedAt).Seconds(),
		},
	}

	h.mu.RLock()
	for name, fn := range h.extras {
		response[name] = fn()
	}
	h.mu.RUnlock()

	c.JSON(http.StatusOK, response)
}
