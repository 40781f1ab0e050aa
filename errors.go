package vybe

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrLLM reports a malformed or unusable model response.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx response from a model endpoint.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed Retry-After header, 0 when absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. It returns 0 when the header is absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
