package fiel

import (
	"fmt"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// Error codes for signing material problems
const (
	ErrCodeCertInvalid     = "CERT_INVALID"
	ErrCodeKeyInvalid      = "KEY_INVALID"
	ErrCodeKeyMismatch     = "KEY_MISMATCH"
	ErrCodeCertExpired     = "CERT_EXPIRED"
	ErrCodeCertNotYetValid = "CERT_NOT_YET_VALID"
	ErrCodeCertRevoked     = "CERT_REVOKED"
	ErrCodeOCSPUnavailable = "OCSP_UNAVAILABLE"
)

// Error reports unusable signing material. Every code matches
// model.ErrCredentialUnavailable.
type Error struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return target == model.ErrCredentialUnavailable
}

// NewError creates a new signing material error
func NewError(code, field, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrCertExpired returns error when certificate has expired
func ErrCertExpired(subject string) *Error {
	return NewError(ErrCodeCertExpired, "certificate", fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when certificate is not yet valid
func ErrCertNotYetValid(subject string) *Error {
	return NewError(ErrCodeCertNotYetValid, "certificate", fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}

// ErrCertRevoked returns error when certificate has been revoked
func ErrCertRevoked(subject string) *Error {
	return NewError(ErrCodeCertRevoked, "certificate", fmt.Sprintf("certificate revoked: %s", subject), nil)
}

// ErrOCSPUnavailable returns error when OCSP check fails
func ErrOCSPUnavailable(cause error) *Error {
	return NewError(ErrCodeOCSPUnavailable, "ocsp", "OCSP check unavailable", cause)
}
