// Package resilience provides retry with backoff for calls that cross the
// process boundary, such as clarification delivery. Nothing in the leveling
// core retries; callers opt in here.
package resilience

import (
	"errors"
	"net"
	"syscall"
)

// Transient is implemented by errors that know whether a retry may succeed.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err is worth retrying: an error in the chain
// that declares itself transient, a network timeout, or a refused/reset
// connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
