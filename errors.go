package goIdentity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/stores"
)

var (
	// ErrValidation marks request data rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrAuthenticationFailed is returned for any credential mismatch.
	ErrAuthenticationFailed = errors.New("username or password is invalid.")
	// ErrNotFound is the parent of every missing-entity error.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is the parent of every throttling error.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidOTP is the parent of InvalidOTPError.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrOTPAttemptsExhausted is returned when the last attempt fails and the code was reset.
	ErrOTPAttemptsExhausted = errors.New("Incorrect OTP. Attempt exceeded! OTP has been reset.")
	// ErrServer is the parent of internal failures the caller cannot fix.
	ErrServer = errors.New("internal server error")
	// ErrGatewayMisconfigured is returned by gateways missing required settings.
	ErrGatewayMisconfigured = errors.New("messaging gateway misconfigured")
	// ErrInvalidRecipient is returned by gateways for unusable recipients.
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrTokenInvalid         = errors.New("invalid token")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrEngineNotReady       = errors.New("engine not initialized")
	ErrDuplicateUser        = errors.New("user already exists")
	// ErrOTPCodeConflict is returned by OTPStore.Update when the code of the
	// new record is already pending for another destination.
	ErrOTPCodeConflict = stores.ErrOTPCodeConflict

	ErrUserNotFound          = childError(ErrNotFound, "No user exists with provided details")
	ErrOTPNotFound           = childError(ErrNotFound, "No pending OTP validation request found for provided destination. Kindly send an OTP first")
	ErrOTPRateLimited        = childError(ErrRateLimited, "otp rate limited")
	ErrLoginRateLimited      = childError(ErrRateLimited, "login rate limited")
	ErrRefreshRateLimited    = childError(ErrRateLimited, "refresh rate limited")
	ErrDeliveryFailed        = childError(ErrServer, "Message sending failed!")
	ErrOTPCodeSpaceExhausted = childError(ErrServer, "otp code space exhausted")
)

type sentinelError struct {
	parent error
	msg    string
}

func childError(parent error, msg string) error {
	return &sentinelError{parent: parent, msg: msg}
}

func (e *sentinelError) Error() string { return e.msg }

func (e *sentinelError) Unwrap() error { return e.parent }

// ValidationError carries per-field messages. It matches ErrValidation.
type ValidationError struct {
	Fields map[string][]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

// Add appends msg to field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// errOrNil returns e as an error only when it holds messages.
func (e *ValidationError) errOrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func fieldError(field, msg string) *ValidationError {
	v := newValidationError()
	v.Add(field, msg)
	return v
}

// InvalidOTPError reports a wrong code with attempts still left.
type InvalidOTPError struct {
	Remaining int
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("OTP Validation failed! %d attempts left!", e.Remaining)
}

func (e *InvalidOTPError) Unwrap() error { return ErrInvalidOTP }

// RateLimitError reports when the throttled action becomes available again.
type RateLimitError struct {
	Until time.Time
	cause error
}

func (e *RateLimitError) Error() string {
	return "OTP sending not allowed until: " + e.Until.UTC().Format(time.RFC3339)
}

func (e *RateLimitError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return ErrOTPRateLimited
}
