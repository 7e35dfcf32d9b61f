package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure so callers can decide
// retry-vs-fallback without inspecting raw transport errors.
type ErrorKind string

const (
	// ErrKindQuota means the request was rejected by a rate limit, either
	// locally before the network call or by the upstream throttling us.
	// Carries a reset hint; the manager falls back instead of retrying.
	ErrKindQuota ErrorKind = "quota"

	// ErrKindAuth means invalid or missing credentials. Never retried.
	ErrKindAuth ErrorKind = "auth"

	// ErrKindTransient means a network failure or a retryable HTTP status.
	// Retried with backoff up to the configured limit.
	ErrKindTransient ErrorKind = "transient"

	// ErrKindNotFound means the requested identifier does not exist
	// upstream. Not an error for bulk operations.
	ErrKindNotFound ErrorKind = "not_found"

	// ErrKindMalformed means the upstream payload was unparsable.
	// Retrying the same response is pointless, so it escalates to fallback.
	ErrKindMalformed ErrorKind = "malformed"
)

// APIError is the typed failure returned by providers and the manager.
type APIError struct {
	Kind       ErrorKind
	Message    string
	Code       int
	Provider   string
	RetryAfter time.Duration
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
	}

	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// NewAPIError creates an APIError of the given kind.
func NewAPIError(kind ErrorKind, message string, code int) *APIError {
	return &APIError{
		Kind:    kind,
		Message: message,
		Code:    code,
	}
}

// QuotaError creates a quota failure carrying a reset-time hint.
func QuotaError(message string, retryAfter time.Duration) *APIError {
	return &APIError{
		Kind:       ErrKindQuota,
		Message:    message,
		Code:       429,
		RetryAfter: retryAfter,
	}
}

// AuthError creates a credential failure.
func AuthError(message string) *APIError {
	return &APIError{
		Kind:    ErrKindAuth,
		Message: message,
		Code:    401,
	}
}

// ErrKind extracts the ErrorKind from an error chain.
// Returns an empty kind for non-API errors.
func ErrKind(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	return ""
}

// IsRetryable reports whether the error kind warrants a same-provider
// retry with backoff. Quota, auth, not-found and malformed failures are
// never retried against the same provider.
func IsRetryable(err error) bool {
	return ErrKind(err) == ErrKindTransient
}

// retryableStatusCodes are the HTTP statuses treated as transient.
var retryableStatusCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// ClassifyHTTPStatus maps an HTTP status code to an error kind.
func ClassifyHTTPStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return ErrKindAuth
	case code == 404:
		return ErrKindNotFound
	case retryableStatusCodes[code]:
		return ErrKindTransient
	default:
		return ErrKindMalformed
	}
}
