package messaging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"go.uber.org/zap"
)

// HTTPSMSConfig configures HTTPSMSGateway for a form-encoded SMS provider
// API. Either APIKey or UserID/Password authenticates the request.
type HTTPSMSConfig struct {
	Endpoint string
	APIKey   string
	UserID   string
	Password string
	SenderID string
	Client   *http.Client
}

// HTTPSMSGateway posts text messages to an SMS provider.
type HTTPSMSGateway struct {
	config HTTPSMSConfig
	client *http.Client
	logger *zap.Logger
}

func NewHTTPSMSGateway(cfg HTTPSMSConfig, logger *zap.Logger) *HTTPSMSGateway {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSMSGateway{config: cfg, client: client, logger: logger}
}

func (g *HTTPSMSGateway) Send(ctx context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	if g.config.Endpoint == "" {
		return goIdentity.DeliveryResult{}, fmt.Errorf("%w: sms endpoint must be set", goIdentity.ErrGatewayMisconfigured)
	}
	if len(msg.Recipient) < MinRecipientLength {
		return goIdentity.DeliveryResult{}, goIdentity.ErrInvalidRecipient
	}

	form := url.Values{}
	form.Set("mobile", msg.Recipient)
	form.Set("msg", msg.Body)
	form.Set("msgType", "text")
	form.Set("output", "json")
	if g.config.SenderID != "" {
		form.Set("senderid", g.config.SenderID)
	}
	if g.config.UserID != "" {
		form.Set("userid", g.config.UserID)
		form.Set("password", g.config.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return goIdentity.DeliveryResult{}, fmt.Errorf("%w: %v", goIdentity.ErrGatewayMisconfigured, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.config.APIKey != "" {
		req.Header.Set("apikey", g.config.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return goIdentity.DeliveryResult{}, fmt.Errorf("sms http: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("sms: provider rejected message",
			zap.String("recipient", msg.Recipient),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", body),
			zap.Duration("duration", time.Since(start)),
		)
		return goIdentity.DeliveryResult{
			Success: false,
			Message: fmt.Sprintf("Message sending failed!(%d)", resp.StatusCode),
		}, nil
	}

	g.logger.Debug("sms: message sent",
		zap.String("recipient", msg.Recipient),
		zap.Duration("duration", time.Since(start)),
	)
	return goIdentity.DeliverySucceeded(), nil
}
