// Package config loads and validates the execution logger configuration from
// the host environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix is the namespace for every recognized environment variable.
const EnvPrefix = "N8N_KAFKA_LOGGER_"

type AuthConfig struct {
	Username  string `validate:"required"`
	Password  string `validate:"required"`
	Mechanism string `validate:"required,oneof=plain scram-sha-256 scram-sha-512"`
}

type KafkaConfig struct {
	Brokers  []string `validate:"required,min=1,dive,hostport"`
	ClientID string   `validate:"required"`
	Topic    string   `validate:"required"`
	SSL      bool
	Driver   string `validate:"required,oneof=sarama watermill"`
	Auth     *AuthConfig
}

type QueueConfig struct {
	MaxSize       int           `validate:"gt=0"`
	BatchSize     int           `validate:"gt=0"`
	FlushInterval time.Duration `validate:"gt=0"`
}

type BreakerConfig struct {
	FailureThreshold int           `validate:"gt=0"`
	ResetTimeout     time.Duration `validate:"gt=0"`
	MonitoringPeriod time.Duration `validate:"gt=0"`
}

type TimeoutConfig struct {
	Connect    time.Duration `validate:"gt=0"`
	Send       time.Duration `validate:"gt=0"`
	Disconnect time.Duration `validate:"gt=0"`
}

type FallbackConfig struct {
	Directory       string `validate:"required"`
	MaxFileSize     int64  `validate:"gt=0"`
	MaxFiles        int    `validate:"gt=0"`
	RotateOnStartup bool
}

// HealthConfig controls the optional HTTP health surface. An empty address
// keeps it off.
type HealthConfig struct {
	Addr string
}

type Config struct {
	Enabled     bool
	LogLevel    string
	Environment string

	Kafka    KafkaConfig
	Queue    QueueConfig
	Breaker  BreakerConfig
	Timeouts TimeoutConfig
	Fallback FallbackConfig
	Health   HealthConfig
}

var ErrBatchExceedsMaxSize = errors.New("invalid configuration: queue batch size cannot exceed queue max size")

// Default returns the documented defaults with the master switch off.
func Default() Config {
	return Config{
		Enabled:  false,
		LogLevel: "info",
		Kafka: KafkaConfig{
			Brokers:  []string{"localhost:9092"},
			ClientID: "n8n-execution-logger",
			Topic:    "n8n-executions",
			SSL:      false,
			Driver:   "sarama",
		},
		Queue: QueueConfig{
			MaxSize:       10000,
			BatchSize:     100,
			FlushInterval: 5000 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60000 * time.Millisecond,
			MonitoringPeriod: 30000 * time.Millisecond,
		},
		Timeouts: TimeoutConfig{
			Connect:    10000 * time.Millisecond,
			Send:       5000 * time.Millisecond,
			Disconnect: 5000 * time.Millisecond,
		},
		Fallback: FallbackConfig{
			Directory:   filepath.Join(os.TempDir(), "n8n-kafka-logger"),
			MaxFileSize: 10 * 1024 * 1024,
			MaxFiles:    5,
		},
	}
}

// LoadFromEnv builds a config from N8N_KAFKA_LOGGER_* variables on top of the
// defaults and validates the result.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	cfg.Enabled = envBool("ENABLED", cfg.Enabled)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Environment = envString("ENVIRONMENT", cfg.Environment)

	if brokers := envString("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = splitBrokers(brokers)
	}

	cfg.Kafka.ClientID = envString("KAFKA_CLIENT_ID", cfg.Kafka.ClientID)
	cfg.Kafka.Topic = envString("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.SSL = envBool("KAFKA_SSL", cfg.Kafka.SSL)
	cfg.Kafka.Driver = envString("KAFKA_DRIVER", cfg.Kafka.Driver)

	if username := envString("KAFKA_AUTH_USERNAME", ""); username != "" {
		cfg.Kafka.Auth = &AuthConfig{
			Username:  username,
			Password:  envString("KAFKA_AUTH_PASSWORD", ""),
			Mechanism: envString("KAFKA_AUTH_MECHANISM", "plain"),
		}
	}

	cfg.Queue.MaxSize = envInt("QUEUE_MAX_SIZE", cfg.Queue.MaxSize)
	cfg.Queue.BatchSize = envInt("QUEUE_BATCH_SIZE", cfg.Queue.BatchSize)
	cfg.Queue.FlushInterval = envDurationMS("QUEUE_FLUSH_INTERVAL_MS", cfg.Queue.FlushInterval)

	cfg.Breaker.FailureThreshold = envInt("BREAKER_FAILURE_THRESHOLD", cfg.Breaker.FailureThreshold)
	cfg.Breaker.ResetTimeout = envDurationMS("BREAKER_RESET_TIMEOUT_MS", cfg.Breaker.ResetTimeout)
	cfg.Breaker.MonitoringPeriod = envDurationMS("BREAKER_MONITORING_PERIOD_MS", cfg.Breaker.MonitoringPeriod)

	cfg.Timeouts.Connect = envDurationMS("TIMEOUT_CONNECT_MS", cfg.Timeouts.Connect)
	cfg.Timeouts.Send = envDurationMS("TIMEOUT_SEND_MS", cfg.Timeouts.Send)
	cfg.Timeouts.Disconnect = envDurationMS("TIMEOUT_DISCONNECT_MS", cfg.Timeouts.Disconnect)

	cfg.Fallback.Directory = envString("FALLBACK_DIR", cfg.Fallback.Directory)
	cfg.Fallback.MaxFileSize = int64(envInt("FALLBACK_MAX_FILE_SIZE", int(cfg.Fallback.MaxFileSize)))
	cfg.Fallback.MaxFiles = envInt("FALLBACK_MAX_FILES", cfg.Fallback.MaxFiles)
	cfg.Fallback.RotateOnStartup = envBool("FALLBACK_ROTATE_ON_STARTUP", cfg.Fallback.RotateOnStartup)

	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints and the cross-field queue invariant.
func Validate(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.RegisterValidation("hostport", validateHostPort); err != nil {
		return fmt.Errorf("failed to register broker validation: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("invalid configuration: %w", validationErrors)
		}

		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Queue.BatchSize > cfg.Queue.MaxSize {
		return ErrBatchExceedsMaxSize
	}

	return nil
}

// KafkaConfigured reports whether the integration should come up at all: the
// master switch is on and at least one broker is named.
func (c Config) KafkaConfigured() bool {
	return c.Enabled && len(c.Kafka.Brokers) > 0
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	if c.Kafka.Auth != nil {
		auth := *c.Kafka.Auth
		auth.Password = "[redacted]"
		c.Kafka.Auth = &auth
	}

	return c
}

func validateHostPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}

	if host == "" || port == "" {
		return false
	}

	_, err = strconv.Atoi(port)

	return err == nil
}

func splitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}

	return brokers
}

func envString(key, fallback string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}

	return fallback
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func envInt(key string, fallback int) int {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func envDurationMS(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return time.Duration(parsed) * time.Millisecond
}
