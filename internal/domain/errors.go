package domain

import (
	"errors"

	"koloda/internal/secret"
)

// Machine-readable error codes shown to the frontend.
const (
	ErrCodeUnknown = "unknown"

	ErrCodeDBGet    = "db.get"
	ErrCodeDBAdd    = "db.add"
	ErrCodeDBUpdate = "db.update"
	ErrCodeDBDelete = "db.delete"

	ErrCodeNotFoundAIProfile = "not-found.ai-profiles.profile"

	ErrCodeValidationAIProvider = "validation.ai-providers.provider"
	ErrCodeValidationAITitle    = "validation.ai-providers.title"
	ErrCodeValidationAIID       = "validation.ai-providers.id"

	ErrCodeSecrets             = "secrets"
	ErrCodeSecretsUnavailable  = "secrets.unavailable"
	ErrCodeSecretsIO           = "secrets.io"
	ErrCodeSecretsLockPoisoned = "secrets.lock-poisoned"
	ErrCodeSecretsMalformed    = "secrets.malformed"
)

// AppError is the user-visible error: a stable code plus a human-readable
// detail. Details never contain secret values.
type AppError struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	err     error
}

func NewAppError(code, details string) *AppError {
	return &AppError{Code: code, Details: details}
}

// WrapAppError tags err with code, using err's message as the detail.
func WrapAppError(code string, err error) *AppError {
	return &AppError{Code: code, Details: err.Error(), err: err}
}

func (e *AppError) Error() string {
	if e.Details == "" {
		return e.Code
	}
	return e.Code + ": " + e.Details
}

func (e *AppError) Unwrap() error { return e.err }

// SecretStoreError converts a vault failure into an AppError whose code
// names the failure kind.
func SecretStoreError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	code := ErrCodeSecrets
	switch secret.KindOf(err) {
	case secret.KindUnavailable:
		code = ErrCodeSecretsUnavailable
	case secret.KindIO:
		code = ErrCodeSecretsIO
	case secret.KindLockPoisoned:
		code = ErrCodeSecretsLockPoisoned
	case secret.KindMalformed:
		code = ErrCodeSecretsMalformed
	}
	return WrapAppError(code, err)
}

// ErrorCode returns err's AppError code, or ErrCodeUnknown.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}
