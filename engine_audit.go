package goIdentity

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventOTPGenerated        = "otp_generated"
	auditEventOTPSent             = "otp_sent"
	auditEventOTPSendRateLimited  = "otp_send_rate_limited"
	auditEventOTPValidated        = "otp_validated"
	auditEventOTPInvalid          = "otp_invalid"
	auditEventOTPAttemptsExceeded = "otp_attempts_exceeded"
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventOTPLoginSuccess     = "otp_login_success"
	auditEventRegisterSuccess     = "register_success"
	auditEventRegisterFailure     = "register_failure"
	auditEventProfileUpdated      = "profile_updated"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshRateLimited  = "refresh_rate_limited"
	auditEventWelcomeFailed       = "welcome_failed"
)

// AuditErrorCode is the stable error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrValidation        AuditErrorCode = "validation"
	auditErrInvalidCredential AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound      AuditErrorCode = "user_not_found"
	auditErrOTPNotFound       AuditErrorCode = "otp_not_found"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrInvalidOTP        AuditErrorCode = "invalid_otp"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrDelivery          AuditErrorCode = "delivery_failed"
	auditErrInvalidToken      AuditErrorCode = "invalid_token"
	auditErrDuplicate         AuditErrorCode = "duplicate"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func destinationMeta(destination string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"destination": destination}
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrInvalidCredential
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrOTPNotFound):
		return auditErrOTPNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidOTP):
		return auditErrInvalidOTP
	case errors.Is(err, ErrOTPAttemptsExhausted):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDelivery
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrUnauthorized):
		return auditErrInvalidToken
	case errors.Is(err, ErrDuplicateUser):
		return auditErrDuplicate
	case errors.Is(err, errStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
