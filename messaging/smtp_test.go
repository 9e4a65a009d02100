package messaging

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts a single session and reports the DATA payload.
func fakeSMTP(t *testing.T, rejectRcpt bool) (string, int, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch verb {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250-localhost")
				_ = tp.PrintfLine("250 8BITMIME")
			case "MAIL":
				_ = tp.PrintfLine("250 OK")
			case "RCPT":
				if rejectRcpt {
					_ = tp.PrintfLine("550 5.1.1 no such user")
					continue
				}
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				received <- strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port, received
}

func TestSMTPGatewayDelivers(t *testing.T) {
	host, port, received := fakeSMTP(t, false)
	gw := NewSMTPGateway(SMTPConfig{Host: host, Port: port, From: "noreply@example.com"}, nil)

	res, err := gw.Send(context.Background(), goIdentity.Message{
		Recipient: "a@example.com",
		Subject:   "OTP for Verification",
		Body:      "your code",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	select {
	case data := <-received:
		assert.Contains(t, data, "To: a@example.com")
		assert.Contains(t, data, "From: noreply@example.com")
		assert.Contains(t, data, "Subject: OTP for Verification")
		assert.Contains(t, data, "your code")
	case <-time.After(2 * time.Second):
		t.Fatal("expected message data")
	}
}

func TestSMTPGatewayRejectedRecipient(t *testing.T) {
	host, port, _ := fakeSMTP(t, true)
	gw := NewSMTPGateway(SMTPConfig{Host: host, Port: port, From: "noreply@example.com"}, nil)

	res, err := gw.Send(context.Background(), goIdentity.Message{Recipient: "ghost@example.com", Body: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Message sending failed!")
	assert.Contains(t, res.Message, "550")
}

func TestSMTPGatewayConfigurationChecks(t *testing.T) {
	ctx := context.Background()
	msg := goIdentity.Message{Recipient: "a@example.com"}

	_, err := NewSMTPGateway(SMTPConfig{From: "noreply@example.com"}, nil).Send(ctx, msg)
	require.ErrorIs(t, err, goIdentity.ErrGatewayMisconfigured)

	_, err = NewSMTPGateway(SMTPConfig{Host: "smtp.example.com"}, nil).Send(ctx, msg)
	require.ErrorIs(t, err, goIdentity.ErrGatewayMisconfigured)

	_, err = NewSMTPGateway(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"}, nil).
		Send(ctx, goIdentity.Message{Recipient: "a@b"})
	require.ErrorIs(t, err, goIdentity.ErrInvalidRecipient)
}

func TestSMTPGatewayDialFailureIsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	gw := NewSMTPGateway(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "noreply@example.com"}, nil)
	_, err = gw.Send(context.Background(), goIdentity.Message{Recipient: "a@example.com"})
	require.Error(t, err)
}

func TestSMTPComposeMultipart(t *testing.T) {
	gw := NewSMTPGateway(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"}, nil)
	gw.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	data, err := gw.compose(goIdentity.Message{
		Recipient: "a@example.com",
		Subject:   "Welcome to goIdentity",
		Body:      "Your account has been created.",
		HTMLBody:  "<p>Your account has been created.</p>",
	})
	require.NoError(t, err)

	r := textproto.NewReader(bufio.NewReader(strings.NewReader(string(data))))
	header, err := r.ReadMIMEHeader()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(header.Get("Content-Type"), "multipart/alternative; boundary="))
	assert.Equal(t, "Tue, 02 Jan 2024 03:04:05 +0000", header.Get("Date"))

	body := string(data)
	assert.Contains(t, body, "text/plain")
	assert.Contains(t, body, "text/html")
	assert.Less(t, strings.Index(body, "text/plain"), strings.Index(body, "text/html"))
}
