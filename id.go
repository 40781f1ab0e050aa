package vybe

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Jobs, messages, fragments and executor owners all use it.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// NowMillis returns current time as Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
