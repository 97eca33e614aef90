package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"facecast/internal/infrastructure/middleware"
	"facecast/internal/infrastructure/monitoring"
	"facecast/internal/infrastructure/ratelimit"
	"facecast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBeaconRouter(t *testing.T, limit int, origins []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.NewMemoryWindowLimiter(limit, time.Minute)
	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	handler := NewBeaconHandler(limiter, metrics, 60, logger.NewNop().Sugar())

	router := gin.New()
	if origins != nil {
		router.Use(middleware.OriginAllowlistMiddleware(origins))
	}
	handler.SetupRoutes(router)
	return router
}

func postBeacon(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{
		"stream_id":  "strm_1",
		"session_id": "sess_1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/beacon", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:52000"
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestBeacon_AcceptsNotification(t *testing.T) {
	router := newBeaconRouter(t, 10, nil)

	w := postBeacon(router, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp["success"])
}

func TestBeacon_EmptyBodyStillCounts(t *testing.T) {
	router := newBeaconRouter(t, 10, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/beacon", nil)
	req.RemoteAddr = "10.0.0.1:52000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBeacon_RateLimitedWithRetryAfter(t *testing.T) {
	router := newBeaconRouter(t, 10, nil)

	for i := 0; i < 10; i++ {
		w := postBeacon(router, "")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := postBeacon(router, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestBeacon_DisallowedOriginForbidden(t *testing.T) {
	router := newBeaconRouter(t, 10, []string{"https://viewer.example"})

	w := postBeacon(router, "https://evil.example")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postBeacon(router, "https://viewer.example")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBeacon_LimiterFailureAllows(t *testing.T) {
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	handler := NewBeaconHandler(failingLimiter{}, metrics, 60, logger.NewNop().Sugar())

	router := gin.New()
	handler.SetupRoutes(router)

	w := postBeacon(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}
