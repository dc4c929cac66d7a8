package clarify

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bidlevel/internal/resilience"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = eris.New("clarify: webhook url not configured")

// DeliveryError reports a failed send: a network error (StatusCode 0) or a
// non-2xx response from the clarification channel.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("clarify: delivery failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("clarify: webhook returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("clarify: webhook returned status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transient reports whether resending may succeed.
func (e *DeliveryError) Transient() bool {
	if e.StatusCode == 0 {
		return resilience.IsTransient(e.Err)
	}
	return resilience.IsTransientHTTPStatus(e.StatusCode)
}
