package core

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrNotConfigured is returned when the Identity Service URL or key is missing or a placeholder.
	ErrNotConfigured = errors.New("identity service not configured")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// ServiceError is an error reported by the Identity & Data Service itself (bad credentials,
// duplicate registration, constraint violations...). Message is kept verbatim for display.
type ServiceError struct {
	Status  int    // HTTP status, 0 when unknown
	Code    string // service error code, eg. "invalid_credentials", "23505"
	Message string
}

func NewServiceError(status int, code, msg string) error {
	return &ServiceError{Status: status, Code: code, Message: msg}
}

func (err ServiceError) Error() string {
	if err.Message != "" {
		return err.Message
	}
	if err.Code != "" {
		return err.Code
	}
	return fmt.Sprintf("identity service error (%d %s)", err.Status, http.StatusText(err.Status))
}

// AsServiceError returns the ServiceError at the root of err, if any.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

func IsServiceError(err error) bool {
	_, ok := AsServiceError(err)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
