package messaging

import (
	"context"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// MinRecipientLength is the shortest recipient accepted, the length of a@b.c.
const MinRecipientLength = 5

// Router sends email recipients through Email and everything else through
// SMS.
type Router struct {
	Email goIdentity.MessagingGateway
	SMS   goIdentity.MessagingGateway
}

func NewRouter(email, sms goIdentity.MessagingGateway) *Router {
	return &Router{Email: email, SMS: sms}
}

func (r *Router) Send(ctx context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	if len(msg.Recipient) < MinRecipientLength {
		return goIdentity.DeliveryResult{}, goIdentity.ErrInvalidRecipient
	}

	if goIdentity.ClassifyIdentifier(msg.Recipient) == goIdentity.IdentifierEmail {
		if r.Email == nil {
			return goIdentity.DeliveryResult{}, fmt.Errorf("%w: no email gateway", goIdentity.ErrGatewayMisconfigured)
		}
		return r.Email.Send(ctx, msg)
	}

	if r.SMS == nil {
		return goIdentity.DeliveryResult{}, fmt.Errorf("%w: no sms gateway", goIdentity.ErrGatewayMisconfigured)
	}
	return r.SMS.Send(ctx, msg)
}
