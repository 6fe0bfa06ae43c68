package storage

import "errors"

var (
	// ErrInvalidAuditEvent is returned for events missing a kind or outcome
	ErrInvalidAuditEvent = errors.New("invalid audit event")

	// ErrValueTooLarge is returned when a cache value exceeds the size limit
	ErrValueTooLarge = errors.New("cache value too large")
)
