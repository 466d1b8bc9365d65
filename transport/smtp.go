package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"dripline/models"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds relay credentials
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTP delivers through a relay with gomail. The generated Message-ID doubles
// as the provider message id.
type SMTP struct {
	dialer *gomail.Dialer
	host   string
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTP{dialer: dialer, host: cfg.Host}
}

func (s *SMTP) Send(ctx context.Context, msg models.Message) (models.Delivery, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain(msg.From))

	m := gomail.NewMessage()
	if msg.FromName != "" {
		m.SetAddressHeader("From", msg.From, msg.FromName)
	} else {
		m.SetHeader("From", msg.From)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	if msg.IdempotencyKey != "" {
		m.SetHeader(idempotencyHeader, msg.IdempotencyKey)
	}
	m.SetBody("text/html", msg.HTML)

	// gomail has no context support; DialAndSend keeps running if ctx expires first
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return models.Delivery{}, fmt.Errorf("error sending email: %w", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return models.Delivery{}, fmt.Errorf("error sending email: %w", err)
		}
	}

	return models.Delivery{Success: true, ProviderMessageID: strings.Trim(messageID, "<>")}, nil
}

func (s *SMTP) domain(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		return from[at+1:]
	}
	return s.host
}
