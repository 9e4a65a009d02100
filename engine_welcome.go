package goIdentity

import (
	"context"

	"go.uber.org/zap"
)

// sendWelcome runs after an account is created. Delivery is synchronous and
// best-effort: failures are logged and counted, never returned.
func (e *Engine) sendWelcome(ctx context.Context, user *User) {
	reg := e.config.Registration

	if reg.SendMail && user.Email != nil {
		e.welcome(ctx, user, Message{
			Recipient: *user.Email,
			Subject:   reg.WelcomeSubject,
			Body:      reg.WelcomeMailBody,
			HTMLBody:  reg.WelcomeMailHTML,
		})
	}
	if reg.SendMessage && user.Mobile != nil {
		e.welcome(ctx, user, Message{
			Recipient: *user.Mobile,
			Body:      reg.WelcomeMessageBody,
		})
	}
}

func (e *Engine) welcome(ctx context.Context, user *User, msg Message) {
	result, err := e.deliver(ctx, msg)
	if err == nil && result.Success {
		return
	}

	e.metricInc(MetricWelcomeFailure)
	e.logger.Warn("goIdentity: welcome message failed",
		zap.String("user_id", user.ID),
		zap.String("recipient", msg.Recipient),
		zap.String("result", result.Message),
		zap.Error(err),
	)
	e.emitAudit(ctx, auditEventWelcomeFailed, false, user.ID, ErrDeliveryFailed, nil)
}
