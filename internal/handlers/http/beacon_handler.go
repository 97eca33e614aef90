package http

import (
	"fmt"
	"net/http"

	"facecast/internal/core/domain"
	"facecast/internal/core/ports"
	"facecast/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BeaconHandler serves the close-notification endpoint. Browsers fire
// it from unload handlers, so it must answer fast and never require a
// body the sender cannot produce mid-teardown.
type BeaconHandler struct {
	limiter    ports.CloseLimiter
	metrics    *monitoring.PrometheusCollector
	retryAfter string
	logger     *zap.SugaredLogger
}

func NewBeaconHandler(
	limiter ports.CloseLimiter,
	metrics *monitoring.PrometheusCollector,
	windowSeconds int,
	logger *zap.SugaredLogger,
) *BeaconHandler {
	return &BeaconHandler{
		limiter:    limiter,
		metrics:    metrics,
		retryAfter: fmt.Sprintf("%d", windowSeconds),
		logger:     logger,
	}
}

func (h *BeaconHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/beacon", h.HandleBeacon)
	}
}

func (h *BeaconHandler) HandleBeacon(c *gin.Context) {
	var req struct {
		StreamID  domain.StreamID  `json:"stream_id"`
		SessionID domain.SessionID `json:"session_id"`
	}
	// Beacon payloads are best-effort; an unparsable body still counts
	// as a close signal from that address.
	_ = c.ShouldBindJSON(&req)

	addr := c.ClientIP()
	ok, err := h.limiter.Allow(c.Request.Context(), addr)
	if err != nil {
		h.logger.Warnw("limiter error, allowing beacon", "addr", addr, "error", err)
		ok = true
	}
	if !ok {
		h.metrics.BeaconRequest("rate_limited")
		c.Header("Retry-After", h.retryAfter)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "too many close notifications",
		})
		return
	}

	h.logger.Infow("close notification received",
		"stream_id", req.StreamID,
		"session_id", req.SessionID,
		"addr", addr,
	)
	h.metrics.BeaconRequest("accepted")

	c.JSON(http.StatusOK, gin.H{"success": true})
}
