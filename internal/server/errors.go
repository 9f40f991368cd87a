package server

import "errors"

// Each error's text is the reason sent to the client in an error event.
var (
	ErrAuthenticationRequired     = errors.New("authentication required")
	ErrAccessDenied               = errors.New("access denied")
	ErrRateLimitExceeded          = errors.New("rate limit exceeded, slow down")
	ErrInvalidContent             = errors.New("message must be between 1 and 1000 characters")
	ErrSendFailed                 = errors.New("failed to send message, try again")
	ErrNotificationDeliveryFailed = errors.New("offline notification delivery failed")
	ErrServiceUnavailable         = errors.New("service unavailable")
	ErrInvalidEvent               = errors.New("invalid event")
)
