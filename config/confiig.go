package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`
	LogLevel    string `json:"log_level"`

	// Store
	StoreDriver    string `json:"store_driver"` // postgres, memory
	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// Transport
	Transport      string        `json:"transport"` // sendgrid, smtp, console
	SendGridAPIKey string        `json:"-"`
	SendGridHost   string        `json:"sendgrid_host"`
	SMTP           SMTPConfig    `json:"smtp"`
	FromEmail      string        `json:"from_email"`
	FromName       string        `json:"from_name"`
	SendTimeout    time.Duration `json:"send_timeout"`

	// Sequencing
	Redis           RedisConfig   `json:"redis"`
	LockTTL         time.Duration `json:"lock_ttl"`
	LockTimeout     time.Duration `json:"lock_timeout"`
	IdempotencyTTL  time.Duration `json:"idempotency_ttl"`
	ActionRateLimit int           `json:"action_rate_limit"`

	// HTTP
	JWTSecret   string   `json:"-"`
	CORSOrigins []string `json:"cors_origins"`
	SentryDSN   string   `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

// LoadConfig reads configuration from the environment
func LoadConfig() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "dripline"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Transport:      strings.ToLower(getEnv("TRANSPORT", "console")),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		SendGridHost:   getEnv("SENDGRID_HOST", ""),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		FromEmail:   getEnv("FROM_EMAIL", "hello@example.com"),
		FromName:    getEnv("FROM_NAME", ""),
		SendTimeout: getEnvAsDuration("SEND_TIMEOUT", 15*time.Second),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		LockTTL:         getEnvAsDuration("LOCK_TTL", 30*time.Second),
		LockTimeout:     getEnvAsDuration("LOCK_TIMEOUT", 30*time.Second),
		IdempotencyTTL:  getEnvAsDuration("IDEMPOTENCY_TTL", 30*24*time.Hour),
		ActionRateLimit: getEnvAsInt("ACTION_RATE_LIMIT", 30),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings for the selected drivers
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.StoreDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "memory":
		if c.Environment == "production" {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.Transport {
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid transport")
		}
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required for the smtp transport")
		}
	case "console":
		if c.Environment == "production" {
			return fmt.Errorf("console transport is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}

	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	if c.Redis.Enabled && c.LockTTL <= c.SendTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed SEND_TIMEOUT (%s)", c.LockTTL, c.SendTimeout)
	}
	return nil
}

// DSN builds the postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

// ConnectDB opens the postgres pool
func ConnectDB(cfg Config, logger logrus.FieldLogger) (*gorm.DB, error) {
	logger.Info("Attempting to connect to database...")
	logger.WithField("dsn", maskPassword(cfg.DSN())).Debug("Using connection string")

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("✅ Successfully connected to the database")
	return db, nil
}

// ConnectRedis returns nil when redis is disabled
func ConnectRedis(cfg Config, logger logrus.FieldLogger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}

	logger.WithField("address", cfg.Redis.Address).Info("✅ Redis connected")
	return client, nil
}

// LogConfig prints the non-secret settings
func LogConfig(cfg Config, logger logrus.FieldLogger) {
	logger.WithFields(logrus.Fields{
		"environment":  cfg.Environment,
		"server_port":  cfg.ServerPort,
		"store":        cfg.StoreDriver,
		"database":     fmt.Sprintf("%s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName),
		"transport":    cfg.Transport,
		"redis":        cfg.Redis.Enabled,
		"send_timeout": cfg.SendTimeout.String(),
		"sentry":       cfg.SentryDSN != "",
	}).Info("🔧 Loaded configuration")
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}
