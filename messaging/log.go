package messaging

import (
	"context"

	goIdentity "github.com/MrEthical07/goIdentity"
	"go.uber.org/zap"
)

// LogGateway writes messages, body included, to a logger. It is meant for
// local development only.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	if len(msg.Recipient) < MinRecipientLength {
		return goIdentity.DeliveryResult{}, goIdentity.ErrInvalidRecipient
	}
	g.logger.Info("message",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return goIdentity.DeliverySucceeded(), nil
}
