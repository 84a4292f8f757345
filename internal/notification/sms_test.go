package notification

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/smukkama/safewalk/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestGateway(username string, sendErr error) (*SMSGateway, *[]capturedMail) {
	var sent []capturedMail
	g := NewSMSGateway(&config.SMTPConfig{
		Host:          "smtp.example.com",
		Port:          587,
		Username:      username,
		Password:      "secret",
		From:          "alerts@example.com",
		GatewayDomain: "sms.example.com",
	}, zap.NewNop())
	g.now = func() time.Time { return time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC) }
	g.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		sent = append(sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return g, &sent
}

func TestAddress(t *testing.T) {
	g, _ := newTestGateway("user", nil)

	addr, err := g.Address("+91 98765-43210")
	require.NoError(t, err)
	assert.Equal(t, "919876543210@sms.example.com", addr)

	addr, err = g.Address("(555) 010.2000")
	require.NoError(t, err)
	assert.Equal(t, "5550102000@sms.example.com", addr)

	for _, bad := range []string{"", "abc", "12+34", "+"} {
		_, err := g.Address(bad)
		assert.Error(t, err, bad)
	}
}

func TestSend(t *testing.T) {
	g, sent := newTestGateway("user", nil)

	require.NoError(t, g.Send(context.Background(), "+1 555 0100", "line one\nline two"))
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, "alerts@example.com", mail.from)
	assert.Equal(t, []string{"15550100@sms.example.com"}, mail.to)
	assert.Contains(t, mail.msg, "To: 15550100@sms.example.com\r\n")
	assert.Contains(t, mail.msg, "\r\n\r\nline one\r\nline two")
}

func TestSend_NotConfiguredOnlyLogs(t *testing.T) {
	g, sent := newTestGateway("", nil)
	require.NoError(t, g.Send(context.Background(), "5550100", "hello"))
	assert.Empty(t, *sent)
	assert.Error(t, g.TestConnection())
}

func TestSend_Errors(t *testing.T) {
	g, _ := newTestGateway("user", errors.New("421 busy"))
	err := g.Send(context.Background(), "5550100", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "421 busy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Send(ctx, "5550100", "hello"), context.Canceled)
}
