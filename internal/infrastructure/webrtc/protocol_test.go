package webrtc

import "testing"

func TestParseProtocolMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		event   ProtocolEvent
		payload string
	}{
		{"ready without payload", "stream/ready:", ProtocolStreamReady, ""},
		{"ready bare", "stream/ready", ProtocolStreamReady, ""},
		{"started", "stream/started:talk_1", ProtocolStreamStarted, "talk_1"},
		{"done", "stream/done:", ProtocolStreamDone, ""},
		{"error with payload", "stream/error:render_timeout", ProtocolStreamError, "render_timeout"},
		{"payload containing colons", "stream/error:code:42:details", ProtocolStreamError, "code:42:details"},
		{"unknown event", "stream/buffering:50", ProtocolUnknown, "50"},
		{"garbage", "???", ProtocolUnknown, ""},
		{"empty message", "", ProtocolUnknown, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, payload := ParseProtocolMessage(tc.raw)
			if event != tc.event {
				t.Errorf("expected event %v, got %v", tc.event, event)
			}
			if payload != tc.payload {
				t.Errorf("expected payload %q, got %q", tc.payload, payload)
			}
		})
	}
}

func TestProtocolEvent_String(t *testing.T) {
	if ProtocolStreamReady.String() != "stream/ready" {
		t.Errorf("unexpected string: %s", ProtocolStreamReady.String())
	}
	if ProtocolUnknown.String() != "unknown" {
		t.Errorf("unexpected string: %s", ProtocolUnknown.String())
	}
}
