package acelle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the gateway or the upstream Acelle API.
// Auth errors (401, and 302 mapped to 401 by the gateway) get one forced
// token refresh and retry; other 4xx/5xx are surfaced verbatim because they
// almost always mean a configuration problem a retry won't fix.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("acelle API error (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err represents an authentication failure
// (expired caller token or upstream login redirect).
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// isTimeout reports whether a transport error was a deadline expiry.
// Timeouts feed the same retry path as any other network error; this only
// shapes the diagnostic message.
func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
