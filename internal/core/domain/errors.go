package domain

import "errors"

var (
	ErrSessionNotFound    = errors.New("no active session")
	ErrNoRenderableSource = errors.New("avatar has no renderable source")
	ErrNegotiationFailed  = errors.New("sdp negotiation failed")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrServiceClosed      = errors.New("session service closed")
)
