package transport

import (
	"context"

	"dripline/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Console logs messages instead of sending them (development mode)
type Console struct {
	logger logrus.FieldLogger
}

func NewConsole(logger logrus.FieldLogger) *Console {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Console{logger: logger}
}

func (c *Console) Send(ctx context.Context, msg models.Message) (models.Delivery, error) {
	id := "console-" + uuid.NewString()
	c.logger.WithFields(logrus.Fields{
		"to":              msg.To,
		"from":            msg.From,
		"subject":         msg.Subject,
		"idempotency_key": msg.IdempotencyKey,
		"message_id":      id,
	}).Info("📧 Email NOT sent (console transport)")
	return models.Delivery{Success: true, ProviderMessageID: id}, nil
}
