package goIdentity

import (
	"context"
	"strings"

	"github.com/MrEthical07/goIdentity/internal"
)

// classifyDestination tells email destinations from mobile numbers. Anything
// that is neither an email address nor all digits is rejected.
func classifyDestination(destination string) (OTPKind, error) {
	switch {
	case destination == "":
		return 0, fieldError("destination", "This field is required.")
	case isEmail(destination):
		return OTPKindEmail, nil
	case internal.HasOnlyDigits(destination):
		return OTPKindMobile, nil
	default:
		return 0, fieldError("destination", "Enter a valid email address or mobile number.")
	}
}

// loginOwner returns the active user owning destination, or ErrUserNotFound.
func (e *Engine) loginOwner(ctx context.Context, kind OTPKind, destination string) (*User, error) {
	user, err := e.userByDestination(ctx, kind, destination)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// RequestOTP issues and sends a code to req.Destination. With IsLogin the
// destination must belong to an existing user. A delivery the gateway
// rejected is reported as ErrDeliveryFailed alongside the result.
func (e *Engine) RequestOTP(ctx context.Context, req OTPRequest) (DeliveryResult, error) {
	if err := e.ready(); err != nil {
		return DeliveryResult{}, err
	}

	destination := strings.TrimSpace(req.Destination)
	kind, err := classifyDestination(destination)
	if err != nil {
		return DeliveryResult{}, err
	}

	if req.IsLogin {
		if _, err := e.loginOwner(ctx, kind, destination); err != nil {
			return DeliveryResult{}, err
		}
	}

	rec, err := e.GenerateOTP(ctx, kind, destination)
	if err != nil {
		return DeliveryResult{}, err
	}

	result, err := e.SendOTP(ctx, destination, rec)
	if err != nil {
		return result, err
	}
	if !result.Success {
		return result, ErrDeliveryFailed
	}

	return result, nil
}

// VerifyOTP checks a submitted code. With IsLogin a match signs the owning
// user in; otherwise the result is nil and the destination is merely marked
// validated for a later registration or profile update.
func (e *Engine) VerifyOTP(ctx context.Context, v OTPVerification) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	destination := strings.TrimSpace(v.Destination)
	kind, err := classifyDestination(destination)
	if err != nil {
		return nil, err
	}
	if v.Code == "" {
		return nil, fieldError("otp", "This field is required.")
	}

	var user *User
	if v.IsLogin {
		if user, err = e.loginOwner(ctx, kind, destination); err != nil {
			return nil, err
		}
	}

	if _, err := e.ValidateOTP(ctx, destination, v.Code); err != nil {
		return nil, err
	}

	if !v.IsLogin {
		return nil, nil
	}

	result, err := e.signIn(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOTPLoginSuccess)
	e.emitAudit(ctx, auditEventOTPLoginSuccess, true, user.ID, nil, destinationMeta(destination))

	return result, nil
}
