package app

import (
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}

	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}

	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}

	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.OutboxPollInterval <= 0 {
		t.Error("expected OutboxPollInterval to be > 0")
	}
	if cfg.OutboxBatchSize <= 0 {
		t.Error("expected OutboxBatchSize to be > 0")
	}
	if cfg.OutboxMaxAttempts <= 0 {
		t.Error("expected OutboxMaxAttempts to be > 0")
	}
	if cfg.OutboxRetryDelay < 0 {
		t.Error("expected OutboxRetryDelay to be >= 0")
	}
	if cfg.IdempotencyCleanupInterval <= 0 {
		t.Error("expected IdempotencyCleanupInterval to be > 0")
	}
	if cfg.IdempotencyCleanupBatchSize <= 0 {
		t.Error("expected IdempotencyCleanupBatchSize to be > 0")
	}
	if cfg.DispatchPollInterval <= 0 {
		t.Error("expected DispatchPollInterval to be > 0")
	}

	if cfg.MpesaConsumerKey != "" {
		t.Error("expected mpesa credentials to be empty by default")
	}
	if cfg.OrderEventsTopic == "" || cfg.PaymentEventsTopic == "" || cfg.DLQTopic == "" {
		t.Error("expected kafka topics to have defaults")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("MM_HTTP_ADDR", ":8181")
	t.Setenv("MM_STORAGE_DRIVER", "postgres")
	t.Setenv("MM_POSTGRES_DSN", "postgres://mm:mm@localhost:5432/mm?sslmode=disable")
	t.Setenv("MM_POSTGRES_AUTO_MIGRATE", "false")
	t.Setenv("MM_OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("MM_OUTBOX_BATCH_SIZE", "50")
	t.Setenv("MM_DEPOT_LATITUDE", "-1.30")

	cfg := LoadFromEnv()

	if cfg.HTTPAddr != ":8181" {
		t.Errorf("expected HTTPAddr :8181, got %s", cfg.HTTPAddr)
	}
	if cfg.StorageDriver != StorageDriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.StorageDriver)
	}
	if cfg.PostgresDSN == "" {
		t.Error("expected PostgresDSN to be set")
	}
	if cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be false")
	}
	if cfg.OutboxPollInterval != 2*time.Second {
		t.Errorf("expected OutboxPollInterval 2s, got %s", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != 50 {
		t.Errorf("expected OutboxBatchSize 50, got %d", cfg.OutboxBatchSize)
	}
	if cfg.DepotLatitude != -1.30 {
		t.Errorf("expected DepotLatitude -1.30, got %f", cfg.DepotLatitude)
	}

	// Непереопределённые значения остаются дефолтными.
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected default MetricsAddr, got %s", cfg.MetricsAddr)
	}
}

func TestLoadFromEnv_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("MM_OUTBOX_POLL_INTERVAL", "not-a-duration")
	t.Setenv("MM_OUTBOX_BATCH_SIZE", "not-a-number")
	t.Setenv("MM_POSTGRES_AUTO_MIGRATE", "not-a-bool")

	cfg := LoadFromEnv()
	defaults := DefaultConfig()

	if cfg.OutboxPollInterval != defaults.OutboxPollInterval {
		t.Errorf("invalid duration must keep default, got %s", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != defaults.OutboxBatchSize {
		t.Errorf("invalid int must keep default, got %d", cfg.OutboxBatchSize)
	}
	if cfg.PostgresAutoMigrate != defaults.PostgresAutoMigrate {
		t.Error("invalid bool must keep default")
	}
}
