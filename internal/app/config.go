package app

import (
	"os"
	"strconv"
	"time"

	"github.com/maina2/MM-backend/internal/messaging/kafka"
)

// StorageDriver определяет реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers       string
	OrderEventsTopic   string
	PaymentEventsTopic string
	DLQTopic           string

	// Настройки шлюза M-Pesa. Пустой MpesaConsumerKey включает mock-шлюз,
	// безопасный дефолт для dev-окружения.
	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortcode      string
	MpesaPasskey        string
	MpesaCallbackURL    string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	DispatchPollInterval time.Duration
	DepotLatitude        float64
	DepotLongitude       float64
}

// DefaultConfig возвращает безопасные дефолты: in-memory storage, mock-шлюз,
// без Kafka.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		OrderEventsTopic:   kafka.TopicOrderEvents,
		PaymentEventsTopic: kafka.TopicPaymentEvents,
		DLQTopic:           kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		DispatchPollInterval: 5 * time.Second,
		// Склад по умолчанию: Nairobi CBD.
		DepotLatitude:  -1.2864,
		DepotLongitude: 36.8172,
	}
}

// LoadFromEnv накладывает переменные окружения MM_* поверх дефолтов.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	setString(&cfg.HTTPAddr, "MM_HTTP_ADDR")
	setString(&cfg.MetricsAddr, "MM_METRICS_ADDR")

	if v := os.Getenv("MM_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = StorageDriver(v)
	}
	setString(&cfg.PostgresDSN, "MM_POSTGRES_DSN")
	setBool(&cfg.PostgresAutoMigrate, "MM_POSTGRES_AUTO_MIGRATE")

	setString(&cfg.KafkaBrokers, "MM_KAFKA_BROKERS")
	setString(&cfg.OrderEventsTopic, "MM_KAFKA_ORDER_TOPIC")
	setString(&cfg.PaymentEventsTopic, "MM_KAFKA_PAYMENT_TOPIC")
	setString(&cfg.DLQTopic, "MM_KAFKA_DLQ_TOPIC")

	setString(&cfg.MpesaBaseURL, "MM_MPESA_BASE_URL")
	setString(&cfg.MpesaConsumerKey, "MM_MPESA_CONSUMER_KEY")
	setString(&cfg.MpesaConsumerSecret, "MM_MPESA_CONSUMER_SECRET")
	setString(&cfg.MpesaShortcode, "MM_MPESA_SHORTCODE")
	setString(&cfg.MpesaPasskey, "MM_MPESA_PASSKEY")
	setString(&cfg.MpesaCallbackURL, "MM_MPESA_CALLBACK_URL")

	setDuration(&cfg.OutboxPollInterval, "MM_OUTBOX_POLL_INTERVAL")
	setInt(&cfg.OutboxBatchSize, "MM_OUTBOX_BATCH_SIZE")
	setInt(&cfg.OutboxMaxAttempts, "MM_OUTBOX_MAX_ATTEMPTS")
	setDuration(&cfg.OutboxRetryDelay, "MM_OUTBOX_RETRY_DELAY")

	setDuration(&cfg.IdempotencyCleanupInterval, "MM_IDEMPOTENCY_CLEANUP_INTERVAL")
	setInt(&cfg.IdempotencyCleanupBatchSize, "MM_IDEMPOTENCY_CLEANUP_BATCH_SIZE")

	setDuration(&cfg.DispatchPollInterval, "MM_DISPATCH_POLL_INTERVAL")
	setFloat(&cfg.DepotLatitude, "MM_DEPOT_LATITUDE")
	setFloat(&cfg.DepotLongitude, "MM_DEPOT_LONGITUDE")

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
