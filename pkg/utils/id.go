package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRequestID returns an ID attached to every outbound relay call
// so relay-side logs can be correlated with ours.
func GenerateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// GenerateClientID returns an ID for a state-feed subscriber.
func GenerateClientID() string {
	return "client_" + uuid.NewString()
}
