package messaging

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"go.uber.org/zap"
)

// SMTPConfig configures SMTPGateway. ImplicitTLS dials TLS directly (port
// 465); otherwise STARTTLS is used when the server offers it.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	ImplicitTLS bool
	TLSConfig   *tls.Config
}

// SMTPGateway delivers email over SMTP.
type SMTPGateway struct {
	config SMTPConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewSMTPGateway(cfg SMTPConfig, logger *zap.Logger) *SMTPGateway {
	if cfg.Port == 0 {
		cfg.Port = 587
		if cfg.ImplicitTLS {
			cfg.Port = 465
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPGateway{config: cfg, logger: logger, now: time.Now}
}

func (g *SMTPGateway) Send(ctx context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	if g.config.Host == "" {
		return goIdentity.DeliveryResult{}, fmt.Errorf("%w: smtp host must be set for sending mail", goIdentity.ErrGatewayMisconfigured)
	}
	if g.config.From == "" {
		return goIdentity.DeliveryResult{}, fmt.Errorf("%w: smtp from address must be set for sending mail", goIdentity.ErrGatewayMisconfigured)
	}
	if len(msg.Recipient) < MinRecipientLength {
		return goIdentity.DeliveryResult{}, goIdentity.ErrInvalidRecipient
	}

	data, err := g.compose(msg)
	if err != nil {
		return goIdentity.DeliveryResult{}, err
	}

	start := time.Now()
	err = g.deliver(ctx, msg.Recipient, data)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) {
			g.logger.Warn("smtp: server rejected message",
				zap.String("recipient", msg.Recipient),
				zap.Int("code", protoErr.Code),
				zap.String("reply", protoErr.Msg),
			)
			return goIdentity.DeliveryResult{
				Success: false,
				Message: fmt.Sprintf("Message sending failed!(%d, %s)", protoErr.Code, protoErr.Msg),
			}, nil
		}
		return goIdentity.DeliveryResult{}, err
	}

	g.logger.Debug("smtp: message sent",
		zap.String("recipient", msg.Recipient),
		zap.Duration("duration", time.Since(start)),
	)
	return goIdentity.DeliverySucceeded(), nil
}

func (g *SMTPGateway) deliver(ctx context.Context, recipient string, data []byte) error {
	addr := net.JoinHostPort(g.config.Host, fmt.Sprint(g.config.Port))

	var (
		conn net.Conn
		err  error
	)
	if g.config.ImplicitTLS {
		d := &tls.Dialer{Config: g.tlsConfig()}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, g.config.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if !g.config.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(g.tlsConfig()); err != nil {
				return err
			}
		}
	}

	if g.config.Username != "" {
		auth := smtp.PlainAuth("", g.config.Username, g.config.Password, g.config.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(g.config.From); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

func (g *SMTPGateway) tlsConfig() *tls.Config {
	if g.config.TLSConfig != nil {
		return g.config.TLSConfig.Clone()
	}
	return &tls.Config{ServerName: g.config.Host, MinVersion: tls.VersionTLS12}
}

// compose renders msg as an RFC 5322 message. A message with an HTML body
// becomes multipart/alternative with the text part first.
func (g *SMTPGateway) compose(msg goIdentity.Message) ([]byte, error) {
	var buf bytes.Buffer

	header := textproto.MIMEHeader{}
	header.Set("From", g.config.From)
	header.Set("To", msg.Recipient)
	header.Set("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header.Set("Date", g.now().Format(time.RFC1123Z))
	header.Set("MIME-Version", "1.0")

	if msg.HTMLBody == "" {
		header.Set("Content-Type", `text/plain; charset="utf-8"`)
		writeHeader(&buf, header)
		buf.WriteString(normalizeNewlines(msg.Body))
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header.Set("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	writeHeader(&buf, header)

	parts := []struct {
		contentType string
		content     string
	}{
		{`text/plain; charset="utf-8"`, msg.Body},
		{`text/html; charset="utf-8"`, msg.HTMLBody},
	}
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(normalizeNewlines(p.content))); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, header textproto.MIMEHeader) {
	for _, key := range []string{"From", "To", "Subject", "Date", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(buf, "%s: %s\r\n", key, header.Get(key))
	}
	buf.WriteString("\r\n")
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
