package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("resource conflict")
	ErrUserCancelled = errors.New("interactive sign-in cancelled by user")
)

// Provider error codes surfaced to callers.
const (
	CodeEmailInUse          = "auth/email-already-in-use"
	CodeWrongPassword       = "auth/wrong-password"
	CodeUserNotFound        = "auth/user-not-found"
	CodeInvalidCredential   = "auth/invalid-credential"
	CodeUserDisabled        = "auth/user-disabled"
	CodeTooManyRequests     = "auth/too-many-requests"
	CodeWeakPassword        = "auth/weak-password"
	CodeInvalidEmail        = "auth/invalid-email"
	CodeTokenExpired        = "auth/user-token-expired"
	CodeInvalidRefreshToken = "auth/invalid-refresh-token"
	CodeInvalidUserToken    = "auth/invalid-user-token"
	CodePopupClosed         = "auth/popup-closed-by-user"
	CodeNetworkFailed       = "auth/network-request-failed"
	CodeInternal            = "auth/internal-error"
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ProviderError is a failure reported by the identity provider.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "identity provider: " + e.Code
	}
	return fmt.Sprintf("identity provider: %s (%s)", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderCode returns the provider code carried by err, or "" if there is none.
func ProviderCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, ErrUserCancelled) {
		return CodePopupClosed
	}
	return ""
}

// ErrorKind groups errors by how they should be presented.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindProvider
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Classify reports the kind of err. Cancellation wins over provider errors so a
// dismissed popup is never presented as a fault.
func Classify(err error) ErrorKind {
	var ve *ValidationError
	var pe *ProviderError
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrUserCancelled):
		return KindCancelled
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &pe):
		return KindProvider
	default:
		return KindInternal
	}
}
