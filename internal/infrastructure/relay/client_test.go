package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"facecast/internal/core/domain"
	"facecast/pkg/logger"

	"github.com/pion/webrtc/v3"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 2*time.Second, logger.NewNop().Sugar()), srv
}

func TestCreateSession_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         "strm_1",
			"session_id": "sess_1",
			"offer":      map[string]string{"type": "offer", "sdp": "v=0\r\n"},
			"ice_servers": []map[string]interface{}{
				{"urls": []string{"stun:stun.example:3478"}},
			},
		})
	}))

	session, err := client.CreateSession(context.Background(), "https://cdn.example/avatar.png", "vp8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "POST /streams" {
		t.Errorf("unexpected request: %s", gotPath)
	}
	if gotAuth != "Basic test-key" {
		t.Errorf("unexpected auth header: %s", gotAuth)
	}
	if gotBody["source_url"] != "https://cdn.example/avatar.png" || gotBody["codec"] != "vp8" {
		t.Errorf("unexpected body: %v", gotBody)
	}
	if session.StreamID != "strm_1" || session.SessionID != "sess_1" {
		t.Errorf("unexpected session identifiers: %+v", session)
	}
	if session.Offer.SDP != "v=0\r\n" {
		t.Errorf("unexpected offer: %+v", session.Offer)
	}
	if len(session.ICEServers) != 1 {
		t.Errorf("expected 1 ice server, got %d", len(session.ICEServers))
	}
}

func TestCreateSession_EmptySourceURL(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an empty source")
	}))

	_, err := client.CreateSession(context.Background(), "", "vp8")
	if !errors.Is(err, domain.ErrNoRenderableSource) {
		t.Errorf("expected ErrNoRenderableSource, got %v", err)
	}
}

func TestCreateSession_RejectedSource(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := client.CreateSession(context.Background(), "https://cdn.example/broken.png", "vp8")
	if !errors.Is(err, domain.ErrNoRenderableSource) {
		t.Errorf("expected ErrNoRenderableSource for 400, got %v", err)
	}
}

func TestCreateSession_RelayUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", 200*time.Millisecond, logger.NewNop().Sugar())

	_, err := client.CreateSession(context.Background(), "https://cdn.example/avatar.png", "vp8")
	if err == nil {
		t.Fatal("expected error for unreachable relay")
	}
}

func TestSendAnswer_PostsTypeAndSDP(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Answer    domain.SDP `json:"answer"`
		SessionID string     `json:"session_id"`
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\nanswer"}
	err := client.SendAnswer(context.Background(), "strm_1", "sess_1", answer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "POST /streams/strm_1/sdp" {
		t.Errorf("unexpected request: %s", gotPath)
	}
	if gotBody.Answer.Type != "answer" || gotBody.Answer.SDP != "v=0\r\nanswer" {
		t.Errorf("unexpected answer body: %+v", gotBody.Answer)
	}
	if gotBody.SessionID != "sess_1" {
		t.Errorf("unexpected session id: %s", gotBody.SessionID)
	}
}

func TestSendICECandidate_Candidate(t *testing.T) {
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	mid := "0"
	idx := uint16(0)
	cand := &domain.ICECandidate{
		Candidate:     "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	if err := client.SendICECandidate(context.Background(), "strm_1", "sess_1", cand); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["candidate"] != cand.Candidate {
		t.Errorf("candidate not forwarded: %v", gotBody)
	}
	if gotBody["sdpMid"] != "0" {
		t.Errorf("sdpMid not forwarded: %v", gotBody)
	}
}

func TestSendICECandidate_NilSignalsGatheringComplete(t *testing.T) {
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.SendICECandidate(context.Background(), "strm_1", "sess_1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, present := gotBody["candidate"]; present {
		t.Errorf("end-of-gathering body must omit candidate, got %v", gotBody)
	}
	if gotBody["session_id"] != "sess_1" {
		t.Errorf("session id missing from end-of-gathering body: %v", gotBody)
	}
}

func TestCloseSession_SwallowsErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if err := client.CloseSession(context.Background(), "strm_1", "sess_1"); err != nil {
		t.Errorf("close session must swallow errors, got %v", err)
	}

	// Unreachable host must also be swallowed.
	broken := NewClient("http://127.0.0.1:1", "", 100*time.Millisecond, logger.NewNop().Sugar())
	if err := broken.CloseSession(context.Background(), "strm_1", "sess_1"); err != nil {
		t.Errorf("close session must swallow transport errors, got %v", err)
	}
}
