package types

import "errors"

var (
	// ErrAuth means the credential is missing or was rejected. It is never
	// retried; the user has to authenticate again.
	ErrAuth = errors.New("authentication required")

	// ErrTransport covers network failures, unexpected statuses and
	// responses that do not match the expected schema.
	ErrTransport = errors.New("transport error")

	// ErrSendFailed is returned when a user message could not be persisted.
	ErrSendFailed = errors.New("send failed")

	// ErrReplyUnavailable marks a reply fetch that found nothing usable.
	// It is resolved with fallback text and never reaches the caller.
	ErrReplyUnavailable = errors.New("reply unavailable")

	// ErrNotConnected is reported when an event is emitted while the
	// real-time channel is down.
	ErrNotConnected = errors.New("channel not connected")

	// ErrSessionBusy is returned when a session's send lane is full.
	ErrSessionBusy = errors.New("session busy")
)
