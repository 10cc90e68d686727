package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is the single failure for unknown accounts, wrong
	// passwords and accounts that may not log in.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode is the single failure for wrong, expired, or already used
	// TOTP and backup codes.
	ErrInvalidCode = errors.New("invalid code")
	// ErrUnauthenticated is returned by Gate for any token that cannot be trusted.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned by Gate when the token purpose may not reach the path.
	ErrForbidden = errors.New("forbidden")

	// ErrAccountExists is returned by Register when the email or username is taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned when an authenticated subject no longer exists.
	ErrAccountNotFound = errors.New("account not found")

	// ErrMFAAlreadyEnabled is returned by SetupMFA and EnableMFA for enrolled accounts.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotPending is returned by EnableMFA when no setup is in progress.
	ErrMFANotPending = errors.New("mfa setup not pending")
	// ErrMFANotEnabled is returned by DisableMFA and backup code operations for unenrolled accounts.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFAStateConflict is returned when a concurrent request changed the MFA state first.
	ErrMFAStateConflict = errors.New("mfa state changed concurrently")
	// ErrMFARateLimited is returned once a subject exhausts its MFA attempts.
	ErrMFARateLimited = errors.New("mfa attempts rate limited")
	// ErrTOTPSecretInvalid marks a stored secret that cannot be decoded; it is a
	// configuration fault, not an authentication failure.
	ErrTOTPSecretInvalid = errors.New("totp secret invalid")

	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by repositories when a conditional update matched no row.
	ErrConflict = errors.New("conditional update conflict")

	// ErrUnknownAccountKind is returned for kinds the Engine was not built with.
	ErrUnknownAccountKind = errors.New("unknown account kind")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError reports a rejected input field. It never carries the
// submitted value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
