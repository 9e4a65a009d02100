package messaging

import (
	"context"
	"errors"

	goIdentity "github.com/MrEthical07/goIdentity"
	"golang.org/x/sync/errgroup"
)

// Fanout sends every message to all gateways concurrently. The delivery
// succeeds only if every gateway succeeded. Gateway errors are joined and
// returned; a plain unsuccessful result is reported with the first failing
// gateway's message.
type Fanout struct {
	gateways []goIdentity.MessagingGateway
}

func NewFanout(gateways ...goIdentity.MessagingGateway) *Fanout {
	return &Fanout{gateways: gateways}
}

func (f *Fanout) Send(ctx context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	if len(f.gateways) == 0 {
		return goIdentity.DeliveryResult{}, goIdentity.ErrGatewayMisconfigured
	}

	results := make([]goIdentity.DeliveryResult, len(f.gateways))
	errs := make([]error, len(f.gateways))

	var g errgroup.Group
	for i, gw := range f.gateways {
		g.Go(func() error {
			results[i], errs[i] = gw.Send(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return goIdentity.DeliveryResult{}, err
	}
	for _, r := range results {
		if !r.Success {
			return r, nil
		}
	}
	return goIdentity.DeliverySucceeded(), nil
}
