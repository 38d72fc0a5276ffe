package iracing

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimitExhausted is returned (wrapped in an *APIError) when a request
// is still rate limited after the configured number of retries.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// APIError represents a non-200 HTTP response from the remote API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API error %d from %s: %v", e.StatusCode, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("API error %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRateLimited reports whether the remote side throttled the request.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// AuthError is returned when the login exchange is rejected.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authentication failed (status %d)", e.StatusCode)
}

// ParseError is returned when a response body does not have the expected shape.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing response from %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
