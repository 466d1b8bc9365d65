package transport

import (
	"context"
	"fmt"

	"dripline/models"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

const (
	sendGridDefaultHost = "https://api.sendgrid.com"
	sendGridMailPath    = "/v3/mail/send"
	idempotencyHeader   = "X-Idempotency-Key"
)

// SendGrid delivers through the SendGrid v3 HTTP API
type SendGrid struct {
	apiKey string
	host   string
	logger logrus.FieldLogger
}

// NewSendGrid creates a SendGrid transport. An empty host means the public API.
func NewSendGrid(apiKey, host string, logger logrus.FieldLogger) *SendGrid {
	if host == "" {
		host = sendGridDefaultHost
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SendGrid{apiKey: apiKey, host: host, logger: logger}
}

func (s *SendGrid) Send(ctx context.Context, msg models.Message) (models.Delivery, error) {
	from := mail.NewEmail(msg.FromName, msg.From)
	to := mail.NewEmail("", msg.To)

	message := mail.NewSingleEmail(from, msg.Subject, to, "", msg.HTML)
	if msg.IdempotencyKey != "" {
		message.SetHeader(idempotencyHeader, msg.IdempotencyKey)
		for _, p := range message.Personalizations {
			p.SetCustomArg("idempotency_key", msg.IdempotencyKey)
		}
	}

	request := sendgrid.GetRequest(s.apiKey, sendGridMailPath, s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return models.Delivery{}, fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.WithFields(logrus.Fields{
			"status": response.StatusCode,
			"body":   response.Body,
			"to":     msg.To,
		}).Warn("SendGrid rejected message")
		return models.Delivery{Success: false}, nil
	}

	messageID := ""
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	s.logger.WithFields(logrus.Fields{
		"to":         msg.To,
		"status":     response.StatusCode,
		"message_id": messageID,
	}).Debug("SendGrid accepted message")

	return models.Delivery{Success: true, ProviderMessageID: messageID}, nil
}
