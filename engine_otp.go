package goIdentity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"go.uber.org/zap"
)

// errCodeRequired is returned by an OTP transition that needs a fresh code it
// was not given. mutateOTP then draws one and reruns the transition.
var errCodeRequired = errors.New("otp code required")

// GenerateOTP issues a code for destination. While the destination is in its
// cooling period the stored record is returned unchanged and nothing is
// written. Otherwise the record is replaced by a fresh code with a full
// attempt budget, marked pending for send.
func (e *Engine) GenerateOTP(ctx context.Context, kind OTPKind, destination string) (*OTPRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if destination == "" {
		return nil, fieldError("destination", "This field is required.")
	}

	var issued bool
	rec, err := e.mutateOTP(ctx, destination, func(cur *OTPRecord, code string) (*OTPRecord, error) {
		now := e.clock()
		issued = false
		if cur != nil && cur.ReactivateAt.After(now) {
			return nil, nil
		}
		if code == "" {
			return nil, errCodeRequired
		}

		next := cur
		if next == nil {
			next = &OTPRecord{}
		}
		next.Code = code
		next.Kind = kind
		next.Validated = false
		next.RemainingAttempts = e.config.OTP.ValidationAttempts
		next.ReactivateAt = now
		next.SendPending = true
		issued = true
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	if issued {
		e.metricInc(MetricOTPGenerated)
		e.emitAudit(ctx, auditEventOTPGenerated, true, "", nil, destinationMeta(destination))
	} else {
		e.metricInc(MetricOTPGenerateCooldown)
	}

	return rec, nil
}

// SendOTP delivers the stored code for destination. The send is claimed
// atomically first: it requires a pending record or an elapsed cooling
// period, and the claim starts a new cooling period whatever the delivery
// outcome. record is the value GenerateOTP returned; the claim re-reads the
// stored state so a concurrent regeneration is never sent a stale code.
func (e *Engine) SendOTP(ctx context.Context, destination string, record *OTPRecord) (DeliveryResult, error) {
	if err := e.ready(); err != nil {
		return DeliveryResult{}, err
	}
	if record == nil {
		return DeliveryResult{}, ErrOTPNotFound
	}
	if e.gateway == nil {
		return DeliveryResult{}, ErrEngineNotReady
	}

	claimed, err := e.updateOTP(ctx, destination, func(cur *OTPRecord) (*OTPRecord, error) {
		if cur == nil {
			return nil, ErrOTPNotFound
		}
		now := e.clock()
		if !cur.SendPending && cur.ReactivateAt.After(now) {
			return nil, &RateLimitError{Until: cur.ReactivateAt}
		}
		cur.SendPending = false
		cur.ReactivateAt = now.Add(e.config.OTP.CoolingPeriod)
		return cur, nil
	})
	if err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			e.metricInc(MetricOTPRateLimited)
			e.emitAudit(ctx, auditEventOTPSendRateLimited, false, "", err, destinationMeta(destination))
		}
		return DeliveryResult{}, err
	}

	msg := Message{
		Recipient: destination,
		Subject:   e.config.OTP.Subject,
		Body:      otpMessageBody(claimed.Kind, destination, claimed.Code),
	}
	result, err := e.deliver(ctx, msg)
	if err != nil {
		e.metricInc(MetricOTPSendFailure)
		e.emitAudit(ctx, auditEventOTPSent, false, "", err, destinationMeta(destination))
		return DeliveryResult{}, err
	}
	if !result.Success {
		e.metricInc(MetricOTPSendFailure)
		e.emitAudit(ctx, auditEventOTPSent, false, "", ErrDeliveryFailed, destinationMeta(destination))
		return result, nil
	}

	_, err = e.updateOTP(ctx, destination, func(cur *OTPRecord) (*OTPRecord, error) {
		if cur == nil {
			return nil, nil
		}
		cur.SendCounter++
		return cur, nil
	})
	if err != nil {
		e.logger.Warn("goIdentity: otp send counter update failed",
			zap.String("destination", destination), zap.Error(err))
	}

	e.metricInc(MetricOTPSendSuccess)
	e.emitAudit(ctx, auditEventOTPSent, true, "", nil, destinationMeta(destination))

	return result, nil
}

// ValidateOTP checks code against the pending record for destination. Every
// call spends one attempt before comparing. A wrong code on the last attempt
// replaces the record with a fresh code in the same atomic update.
func (e *Engine) ValidateOTP(ctx context.Context, destination, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	_, err := e.mutateOTP(ctx, destination, func(cur *OTPRecord, fresh string) (*OTPRecord, error) {
		if cur == nil || cur.Validated {
			return nil, ErrOTPNotFound
		}

		next := cur
		next.RemainingAttempts--
		if subtle.ConstantTimeCompare([]byte(code), []byte(cur.Code)) == 1 {
			next.Validated = true
			return next, nil
		}

		if next.RemainingAttempts <= 0 {
			if fresh == "" {
				return nil, errCodeRequired
			}
			next.Code = fresh
			next.RemainingAttempts = e.config.OTP.ValidationAttempts
			next.SendPending = true
			next.ReactivateAt = e.clock()
			return next, ErrOTPAttemptsExhausted
		}

		return next, &InvalidOTPError{Remaining: next.RemainingAttempts}
	})

	switch {
	case err == nil:
		e.metricInc(MetricOTPValidateSuccess)
		e.emitAudit(ctx, auditEventOTPValidated, true, "", nil, destinationMeta(destination))
		return true, nil
	case errors.Is(err, ErrOTPAttemptsExhausted):
		e.metricInc(MetricOTPAttemptsExhausted)
		e.emitAudit(ctx, auditEventOTPAttemptsExceeded, false, "", err, destinationMeta(destination))
	case errors.Is(err, ErrInvalidOTP):
		e.metricInc(MetricOTPValidateFailure)
		e.emitAudit(ctx, auditEventOTPInvalid, false, "", err, destinationMeta(destination))
	}

	return false, err
}

// OTPValidated reports whether destination holds a validated code. Registration
// and profile updates use it as a proof of ownership.
func (e *Engine) OTPValidated(ctx context.Context, destination string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	rec, err := e.otpStore.Get(ctx, destination)
	if err != nil {
		return false, storeError(err)
	}
	return rec != nil && rec.Validated, nil
}

// updateOTP runs fn through the store and separates transition errors, which
// are returned as-is, from store failures. Written records are stamped with
// the engine clock.
func (e *Engine) updateOTP(ctx context.Context, destination string, fn func(*OTPRecord) (*OTPRecord, error)) (*OTPRecord, error) {
	var fnErr error
	rec, err := e.otpStore.Update(ctx, destination, func(cur *OTPRecord) (*OTPRecord, error) {
		next, err := fn(cur)
		fnErr = err
		if next != nil {
			now := e.clock()
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
			next.UpdatedAt = now
		}
		return next, err
	})
	if errors.Is(err, ErrOTPCodeConflict) {
		return nil, err
	}
	if err != nil && err != fnErr {
		return nil, storeError(err)
	}
	return rec, err
}

// mutateOTP runs a transition that may need a fresh code. The first pass runs
// without one; if the transition asks for a code, a collision-checked code is
// drawn and the transition runs again against the then-current record. The
// store has the final say on collisions: a code claimed by another
// destination in the meantime is redrawn.
func (e *Engine) mutateOTP(
	ctx context.Context,
	destination string,
	fn func(cur *OTPRecord, code string) (*OTPRecord, error),
) (*OTPRecord, error) {
	rec, err := e.updateOTP(ctx, destination, func(cur *OTPRecord) (*OTPRecord, error) {
		return fn(cur, "")
	})
	if !errors.Is(err, errCodeRequired) {
		return rec, err
	}

	for i := 0; i < e.config.OTP.MaxCodeRetries; i++ {
		code, err := e.freshCode(ctx)
		if err != nil {
			return nil, err
		}

		rec, err = e.updateOTP(ctx, destination, func(cur *OTPRecord) (*OTPRecord, error) {
			return fn(cur, code)
		})
		if !errors.Is(err, ErrOTPCodeConflict) {
			return rec, err
		}
	}
	return nil, ErrOTPCodeSpaceExhausted
}

// freshCode draws codes until one is not active for any destination.
func (e *Engine) freshCode(ctx context.Context) (string, error) {
	for i := 0; i < e.config.OTP.MaxCodeRetries; i++ {
		code, err := internal.NewOTP(e.config.OTP.Length, e.config.OTP.Alphabet)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrServer, err)
		}
		active, err := e.otpStore.CodeActive(ctx, code)
		if err != nil {
			return "", storeError(err)
		}
		if !active {
			return code, nil
		}
	}
	return "", ErrOTPCodeSpaceExhausted
}

// deliver calls the gateway under the messaging timeout and maps gateway
// errors. Transport failures become an unsuccessful result, not an error.
func (e *Engine) deliver(ctx context.Context, msg Message) (DeliveryResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, e.config.Messaging.Timeout)
	defer cancel()

	start := time.Now()
	result, err := e.gateway.Send(sendCtx, msg)
	e.metrics.Observe(MetricDeliveryLatency, time.Since(start))

	switch {
	case err == nil:
		if result.Message == "" {
			if result.Success {
				result.Message = deliveryOKMessage
			} else {
				result.Message = deliveryFailedMessage
			}
		}
		return result, nil
	case errors.Is(err, ErrGatewayMisconfigured):
		e.logger.Error("goIdentity: messaging gateway misconfigured", zap.Error(err))
		return DeliveryResult{}, fmt.Errorf("%w: %w", ErrServer, err)
	case errors.Is(err, ErrInvalidRecipient):
		return DeliveryResult{}, fieldError("destination", "Invalid recipient.")
	default:
		e.logger.Warn("goIdentity: message delivery failed",
			zap.String("recipient", msg.Recipient), zap.Error(err))
		return DeliveryFailed(), nil
	}
}

func otpMessageBody(kind OTPKind, destination, code string) string {
	label := "Mobile"
	if kind == OTPKindEmail {
		label = "Email"
	}
	return fmt.Sprintf("OTP for verifying %s: %s is %s. Don't share this with anyone!", label, destination, code)
}
