package transport

import (
	"context"
	"errors"
	"time"

	"dripline/metrics"
	"dripline/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Sender is implemented by every transport in this package
type Sender interface {
	Send(ctx context.Context, msg models.Message) (models.Delivery, error)
}

// Deduplicating remembers successful deliveries by idempotency key so a retried
// step that already reached the provider is answered from redis instead of
// being sent again. Failed deliveries are not remembered.
type Deduplicating struct {
	next    Sender
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewDeduplicating(next Sender, client *redis.Client, ttl time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Deduplicating {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Deduplicating{
		next:    next,
		client:  client,
		ttl:     ttl,
		prefix:  "idem:",
		logger:  logger,
		metrics: m,
	}
}

func (d *Deduplicating) Send(ctx context.Context, msg models.Message) (models.Delivery, error) {
	if msg.IdempotencyKey == "" {
		return d.next.Send(ctx, msg)
	}
	key := d.prefix + msg.IdempotencyKey

	providerID, err := d.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		d.metrics.RecordDedupedReplay()
		d.logger.WithField("idempotency_key", msg.IdempotencyKey).Info("Delivery already recorded, not sending again")
		return models.Delivery{Success: true, ProviderMessageID: providerID}, nil
	case !errors.Is(err, redis.Nil):
		// an unavailable cache must not block delivery
		d.logger.WithError(err).Warn("Idempotency lookup failed, sending anyway")
	}

	delivery, err := d.next.Send(ctx, msg)
	if err != nil || !delivery.Success {
		return delivery, err
	}

	if err := d.client.Set(ctx, key, delivery.ProviderMessageID, d.ttl).Err(); err != nil {
		d.logger.WithError(err).WithField("idempotency_key", msg.IdempotencyKey).Warn("Failed to remember delivery")
	}
	return delivery, nil
}
