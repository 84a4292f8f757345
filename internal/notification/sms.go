// Package notification delivers text messages to emergency contacts through
// an SMTP email-to-SMS gateway.
package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
	"unicode"

	"github.com/smukkama/safewalk/pkg/config"
	"go.uber.org/zap"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMSGateway sends each text as a plain email to <digits>@<gateway domain>.
type SMSGateway struct {
	config   *config.SMTPConfig
	logger   *zap.Logger
	sendMail SendFunc
	now      func() time.Time
}

// NewSMSGateway creates a gateway backed by net/smtp
func NewSMSGateway(cfg *config.SMTPConfig, logger *zap.Logger) *SMSGateway {
	return &SMSGateway{
		config:   cfg,
		logger:   logger,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Configured reports whether SMTP credentials are present.
func (g *SMSGateway) Configured() bool {
	return g.config.Username != "" && g.config.Password != ""
}

// Address maps a phone number to its gateway mailbox.
func (g *SMSGateway) Address(phone string) (string, error) {
	var digits strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", fmt.Errorf("invalid phone number %q", phone)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return digits.String() + "@" + g.config.GatewayDomain, nil
}

// Send delivers one text. When SMTP is not configured the message is only
// logged.
func (g *SMSGateway) Send(ctx context.Context, phone, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to, err := g.Address(phone)
	if err != nil {
		return err
	}

	if !g.Configured() {
		g.logger.Info("SMTP not configured, skipping text message",
			zap.String("to", to),
			zap.String("body", body))
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", g.config.From)
	message += fmt.Sprintf("To: %s\r\n", to)
	message += "Subject: SafeWalk\r\n"
	message += fmt.Sprintf("Date: %s\r\n", g.now().Format(time.RFC1123Z))
	message += "MIME-Version: 1.0\r\n"
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += strings.ReplaceAll(body, "\n", "\r\n")

	auth := smtp.PlainAuth("", g.config.Username, g.config.Password, g.config.Host)
	addr := fmt.Sprintf("%s:%d", g.config.Host, g.config.Port)
	if err := g.sendMail(addr, auth, g.config.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send text to %s: %w", to, err)
	}

	g.logger.Debug("Text message sent", zap.String("to", to))
	return nil
}

// TestConnection dials the SMTP server
func (g *SMSGateway) TestConnection() error {
	if !g.Configured() {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", g.config.Host, g.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	g.logger.Info("SMTP connection test successful", zap.String("addr", addr))
	return nil
}
