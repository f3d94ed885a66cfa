package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ProviderError represents an upstream non-2xx response that is neither an
// authentication nor a rate-limit failure.
type ProviderError struct {
	// Provider is the name of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable)
	StatusCode int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// AuthError represents a rejected credential (HTTP 400 with an invalid key
// body, 401 or 403).
type AuthError struct {
	// Provider is the name of the provider that rejected authentication
	Provider string

	// StatusCode is the HTTP status code
	StatusCode int

	// Message is the error message from the provider
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// RateLimitError represents quota exhaustion (HTTP 429).
// It includes the retry-after duration if provided by the provider.
type RateLimitError struct {
	// Provider is the name of the provider that rate limited the request
	Provider string

	// RetryAfter is the duration to wait before retrying (if provided)
	RetryAfter time.Duration

	// Message is the error message from the provider
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %q rate limit exceeded (retry after %s): %s",
			e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("provider %q rate limit exceeded: %s", e.Provider, e.Message)
}

// TimeoutError represents a request that exceeded its deadline.
type TimeoutError struct {
	// Provider is the name of the provider where the timeout occurred
	Provider string

	// Timeout is the configured timeout duration
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %q request timeout after %s", e.Provider, e.Timeout)
}

// TransportError represents a DNS, connection or proxy failure before any
// HTTP response was received.
type TransportError struct {
	Provider string
	Cause    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %q transport error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ParseError represents a response parsing failure.
// This occurs when the provider returns a malformed response.
type ParseError struct {
	// Provider is the name of the provider that returned the malformed response
	Provider string

	// RawResponse is the raw response body that failed to parse
	RawResponse string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NoArtifactError is returned when a 2xx response carries no image.
type NoArtifactError struct {
	Provider string

	// Message is any text the provider returned instead.
	Message string
}

// Error implements the error interface.
func (e *NoArtifactError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %q returned no image: %s", e.Provider, truncate(e.Message, 200))
	}
	return fmt.Sprintf("provider %q returned no image", e.Provider)
}

// IsTransport reports whether err is a timeout or connection failure, i.e.
// says nothing about the credential used.
func IsTransport(err error) bool {
	var te *TimeoutError
	var tre *TransportError
	return errors.As(err, &te) || errors.As(err, &tre)
}

// IsRateLimit reports whether err is an upstream quota error.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// StatusCode extracts the upstream HTTP status from err, or 0.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	if IsRateLimit(err) {
		return http.StatusTooManyRequests
	}
	return 0
}

// StatusError maps a non-2xx response onto the error taxonomy.
func StatusError(provider string, resp *Response) error {
	msg := truncate(strings.TrimSpace(string(resp.Body)), 1000)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{
			Provider:   provider,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    msg,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	default:
		return &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
