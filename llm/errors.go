package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeTransport covers connection refused, DNS failure, and other
	// network-level errors. Retryable.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeTimeout covers request deadline expiry. Retryable.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeRateLimit covers HTTP 429. Retryable with backoff.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer covers 5xx responses. Retryable with backoff.
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeAuth covers 401/403 and invalid credential formats. Fatal.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeInvalidRequest covers remaining 4xx responses and local
	// validation failures. Fatal, surfaced immediately, never retried.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeParse covers malformed stream fragments. Never fatal; parsers
	// swallow these rather than aborting a healthy stream.
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeToolExecution covers capability failures, caught and converted
	// to failed results so the turn continues.
	ErrorTypeToolExecution ErrorType = "tool_execution"
	// ErrorTypeProvider covers everything else a backend reports.
	ErrorTypeProvider ErrorType = "provider"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsAuthError checks if an error is a credential/authorization error.
func IsAuthError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeAuth
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewTransportError creates a retryable network-level error.
func NewTransportError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTransport,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewAuthError creates a fatal credential error.
func NewAuthError(message string) *Error {
	return &Error{
		Type:      ErrorTypeAuth,
		Message:   message,
		Retryable: false,
	}
}

// NewInvalidRequestError creates a fatal validation error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:      ErrorTypeInvalidRequest,
		Message:   message,
		Retryable: false,
	}
}

// NewProviderError creates a non-retryable provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// FromHTTPStatus maps an HTTP response status to the error taxonomy, keeping
// the raw provider error text attached for diagnostics. All provider clients
// route non-2xx responses through here so the retry classification stays in
// one place.
func FromHTTPStatus(backend string, status int, body string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		return &Error{
			Type:        ErrorTypeRateLimit,
			Message:     fmt.Sprintf("%s rate limit", backend),
			Retryable:   true,
			RetryAfter:  &retryAfter,
			StatusCode:  status,
			ProviderErr: fmt.Errorf("status %d: %s", status, body),
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{
			Type:        ErrorTypeAuth,
			Message:     fmt.Sprintf("%s authentication failed", backend),
			Retryable:   false,
			StatusCode:  status,
			ProviderErr: fmt.Errorf("status %d: %s", status, body),
		}
	case status >= 400 && status < 500:
		return &Error{
			Type:        ErrorTypeInvalidRequest,
			Message:     fmt.Sprintf("%s rejected request", backend),
			Retryable:   false,
			StatusCode:  status,
			ProviderErr: fmt.Errorf("status %d: %s", status, body),
		}
	case status >= 500:
		return &Error{
			Type:        ErrorTypeServer,
			Message:     fmt.Sprintf("%s server error", backend),
			Retryable:   true,
			StatusCode:  status,
			ProviderErr: fmt.Errorf("status %d: %s", status, body),
		}
	default:
		return &Error{
			Type:        ErrorTypeProvider,
			Message:     fmt.Sprintf("%s unexpected status", backend),
			Retryable:   false,
			StatusCode:  status,
			ProviderErr: fmt.Errorf("status %d: %s", status, body),
		}
	}
}
