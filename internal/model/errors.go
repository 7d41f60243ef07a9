package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend error classification.
var (
	ErrAuthentication     = errors.New("AuthenticationError")
	ErrPermission         = errors.New("PermissionDeniedError")
	ErrNotFound           = errors.New("NotFoundError")
	ErrRateLimit          = errors.New("RateLimitError")
	ErrInvalidRequest     = errors.New("InvalidRequestError")
	ErrTimeout            = errors.New("Timeout")
	ErrServiceUnavailable = errors.New("ServiceUnavailableError")

	ErrMalformedResponse = errors.New("malformed backend response")
	ErrInvalidItem       = errors.New("invalid generation item")
	ErrInvalidConfig     = errors.New("invalid generation config")
)

// BackendError is returned by backend calls that got a non-2xx response.
type BackendError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Err        error  `json:"-"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s (status=%d)", e.Type, e.Message, e.StatusCode)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON error body used by both the backend and copydesk's API.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// MapHTTPStatusToError maps an HTTP status code to a sentinel error.
func MapHTTPStatusToError(status int) error {
	switch {
	case status == 401:
		return ErrAuthentication
	case status == 403:
		return ErrPermission
	case status == 404:
		return ErrNotFound
	case status == 429:
		return ErrRateLimit
	case status == 400 || status == 422:
		return ErrInvalidRequest
	case status == 408:
		return ErrTimeout
	case status >= 500:
		return ErrServiceUnavailable
	default:
		return fmt.Errorf("unexpected status code: %d", status)
	}
}
