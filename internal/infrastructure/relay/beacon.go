package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"facecast/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BeaconNotifier fires the best-effort "client left the session" POST
// on shutdown. It must never block teardown: one attempt, a short
// timeout, failures are logged and dropped. The receiving endpoint rate
// limits per IP, so a refused notification is an expected outcome.
type BeaconNotifier struct {
	url    string
	http   *http.Client
	logger *zap.SugaredLogger
}

func NewBeaconNotifier(url string, timeout time.Duration, logger *zap.SugaredLogger) *BeaconNotifier {
	return &BeaconNotifier{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type beaconPayload struct {
	EventID   string           `json:"event_id"`
	StreamID  domain.StreamID  `json:"stream_id"`
	SessionID domain.SessionID `json:"session_id"`
}

// Notify posts the identifiers of the session being abandoned.
func (n *BeaconNotifier) Notify(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID) {
	if n.url == "" || streamID == "" {
		return
	}

	body, err := json.Marshal(beaconPayload{
		EventID:   uuid.NewString(),
		StreamID:  streamID,
		SessionID: sessionID,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Debugw("close beacon failed", "stream_id", streamID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		// Best-effort semantics: do not retry a limited beacon.
		n.logger.Debugw("close beacon rate limited", "stream_id", streamID)
		return
	}
	if resp.StatusCode >= 300 {
		n.logger.Debugw("close beacon rejected", "stream_id", streamID, "status", resp.StatusCode)
	}
}
