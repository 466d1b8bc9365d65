package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dripline/config"
	controller "dripline/controllers"
	"dripline/metrics"
	"dripline/middleware"
	"dripline/routes"
	"dripline/sequence"
	"dripline/store"
	"dripline/transport"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// recipientStore is what both store implementations provide
type recipientStore interface {
	sequence.Store
	controller.LeadStore
}

type server struct {
	cfg    config.Config
	logger *logrus.Logger
	app    *fiber.App
	redis  *redis.Client
}

func newServer(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*server, error) {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			return nil, fmt.Errorf("failed to init sentry: %w", err)
		}
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rdb, err := config.ConnectRedis(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	tr, err := buildTransport(cfg, rdb, logger, m)
	if err != nil {
		return nil, err
	}

	var locker sequence.Locker = sequence.NewKeyedMutex()
	var limiterStorage fiber.Storage
	if rdb != nil {
		locker = sequence.NewRedisLocker(rdb, cfg.LockTTL)
		limiterStorage = middleware.NewRedisStorage(rdb)
	}

	sequencer := sequence.New(st, tr,
		sequence.WithLocker(locker),
		sequence.WithSendTimeout(cfg.SendTimeout),
		sequence.WithLockTimeout(cfg.LockTimeout),
		sequence.WithSender(cfg.FromEmail, cfg.FromName),
		sequence.WithLogger(logger.WithField("component", "sequencer")),
		sequence.WithMetrics(m),
	)

	app := fiber.New(fiber.Config{
		AppName:      "dripline",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.LockTimeout + cfg.SendTimeout + 5*time.Second,
	})
	app.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins...)))

	routes.SetupRoutes(app, routes.Dependencies{
		Sequencer:        sequencer,
		Leads:            st,
		Logger:           logger,
		JWTSecret:        cfg.JWTSecret,
		Metrics:          m,
		Gatherer:         prometheus.DefaultGatherer,
		RateLimit:        cfg.ActionRateLimit,
		RateLimitStorage: limiterStorage,
	})

	return &server{cfg: cfg, logger: logger, app: app, redis: rdb}, nil
}

func (s *server) Run() error {
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		s.logger.Info("Shutting down...")
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			s.logger.WithError(err).Error("Graceful shutdown failed")
		}
	}()

	s.logger.Infof("🚀 Server starting on port %s", s.cfg.ServerPort)
	if err := s.app.Listen(":" + s.cfg.ServerPort); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *server) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	sentry.Flush(2 * time.Second)
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (recipientStore, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("⚠️  Using in-memory store, leads are lost on restart")
		return store.NewMemoryStore(), nil
	}

	db, err := config.ConnectDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store.NewGormStore(db), nil
}

func migrate(ctx context.Context, db *gorm.DB) error {
	return store.NewGormStore(db).Migrate(ctx)
}

func buildTransport(cfg config.Config, rdb *redis.Client, logger *logrus.Logger, m *metrics.Metrics) (sequence.Transport, error) {
	entry := logger.WithField("component", "transport")

	var tr transport.Sender
	switch cfg.Transport {
	case "sendgrid":
		tr = transport.NewSendGrid(cfg.SendGridAPIKey, cfg.SendGridHost, entry)
		entry.Info("✅ Email transport initialized with SendGrid")
	case "smtp":
		tr = transport.NewSMTP(transport.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
		entry.WithField("host", cfg.SMTP.Host).Info("✅ Email transport initialized with SMTP")
	case "console":
		tr = transport.NewConsole(entry)
		entry.Warn("⚠️  Email transport in console-only mode")
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	if rdb != nil {
		tr = transport.NewDeduplicating(tr, rdb, cfg.IdempotencyTTL, entry, m)
	}
	return tr, nil
}
