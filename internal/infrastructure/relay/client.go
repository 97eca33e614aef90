package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"facecast/internal/core/domain"
	apperrors "facecast/pkg/errors"
	"facecast/pkg/tracing"
	"facecast/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Client is the typed consumer of the external REST signaling relay.
// It performs exactly one HTTP call per method and never retries:
// retry policy is the session service's job, not this client's.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type createSessionRequest struct {
	SourceURL string `json:"source_url"`
	Codec     string `json:"codec,omitempty"`
}

type createSessionResponse struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"session_id"`
	Offer      domain.SDP         `json:"offer"`
	ICEServers []domain.ICEServer `json:"ice_servers"`
}

// CreateSession allocates a fresh stream session for the avatar source.
// A failed result means "cannot initiate"; the caller must not retry
// within the same call.
func (c *Client) CreateSession(ctx context.Context, avatarSourceURL, codecPreference string) (*domain.StreamSession, error) {
	ctx, span := tracing.TraceRelayCall(ctx, "create_session", "")
	defer span.End()

	if avatarSourceURL == "" {
		return nil, domain.ErrNoRenderableSource
	}

	body, err := json.Marshal(createSessionRequest{
		SourceURL: avatarSourceURL,
		Codec:     codecPreference,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create session request: %w", err)
	}

	var resp createSessionResponse
	status, err := c.do(ctx, http.MethodPost, "/streams", body, &resp)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.NewRelayError(err, "create session request failed")
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: relay returned status %d", domain.ErrNoRenderableSource, status)
	case status < 200 || status >= 300:
		err := apperrors.NewRelayError(nil, fmt.Sprintf("create session returned status %d", status))
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if resp.ID == "" || resp.SessionID == "" {
		return nil, apperrors.NewRelayError(nil, "relay returned empty session identifiers")
	}

	session := &domain.StreamSession{
		StreamID:   domain.StreamID(resp.ID),
		SessionID:  domain.SessionID(resp.SessionID),
		Offer:      resp.Offer,
		ICEServers: resp.ICEServers,
		CreatedAt:  time.Now(),
	}

	c.logger.Infow("stream session created",
		"stream_id", session.StreamID,
		"ice_servers", len(session.ICEServers),
	)
	return session, nil
}

type sendAnswerRequest struct {
	Answer    domain.SDP       `json:"answer"`
	SessionID domain.SessionID `json:"session_id"`
}

// SendAnswer posts the local SDP answer. Best-effort: a network failure
// is reported for logging but the relay call is not retried inline; a
// stalled session is cleaned up by the reconnection path.
func (c *Client) SendAnswer(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID, answer webrtc.SessionDescription) error {
	ctx, span := tracing.TraceRelayCall(ctx, "send_answer", string(streamID))
	defer span.End()

	body, err := json.Marshal(sendAnswerRequest{
		Answer:    domain.SDP{Type: answer.Type.String(), SDP: answer.SDP},
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	status, err := c.do(ctx, http.MethodPost, "/streams/"+string(streamID)+"/sdp", body, nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewRelayError(err, "send answer request failed")
	}
	if status < 200 || status >= 300 {
		err := apperrors.NewRelayError(nil, fmt.Sprintf("send answer returned status %d", status))
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

type sendCandidateRequest struct {
	Candidate     *string          `json:"candidate,omitempty"`
	SDPMid        *string          `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16          `json:"sdpMLineIndex,omitempty"`
	SessionID     domain.SessionID `json:"session_id"`
}

// SendICECandidate forwards one locally gathered candidate. A nil
// candidate posts a body without candidate fields, which the relay
// reads as end-of-gathering.
func (c *Client) SendICECandidate(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID, candidate *domain.ICECandidate) error {
	ctx, span := tracing.TraceRelayCall(ctx, "send_ice_candidate", string(streamID))
	defer span.End()

	req := sendCandidateRequest{SessionID: sessionID}
	if candidate != nil {
		req.Candidate = &candidate.Candidate
		req.SDPMid = candidate.SDPMid
		req.SDPMLineIndex = candidate.SDPMLineIndex
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ice candidate: %w", err)
	}

	status, err := c.do(ctx, http.MethodPost, "/streams/"+string(streamID)+"/ice", body, nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewRelayError(err, "send ice candidate request failed")
	}
	if status < 200 || status >= 300 {
		err := apperrors.NewRelayError(nil, fmt.Sprintf("send ice candidate returned status %d", status))
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

type closeSessionRequest struct {
	SessionID domain.SessionID `json:"session_id"`
}

// CloseSession releases the session server-side. Fire-and-forget: the
// session is being discarded regardless, so errors are only logged.
func (c *Client) CloseSession(ctx context.Context, streamID domain.StreamID, sessionID domain.SessionID) error {
	ctx, span := tracing.TraceRelayCall(ctx, "close_session", string(streamID))
	defer span.End()

	body, err := json.Marshal(closeSessionRequest{SessionID: sessionID})
	if err != nil {
		return nil
	}

	status, err := c.do(ctx, http.MethodDelete, "/streams/"+string(streamID), body, nil)
	if err != nil {
		c.logger.Debugw("close session failed", "stream_id", streamID, "error", err)
		return nil
	}
	if status < 200 || status >= 300 {
		c.logger.Debugw("close session rejected", "stream_id", streamID, "status", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", utils.GenerateRequestID())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Basic "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
