package app

import (
	"context"
	"testing"

	"github.com/maina2/MM-backend/internal/gateway/mpesa"
)

func TestNewDependencies_MemoryDriver(t *testing.T) {
	cfg := DefaultConfig()

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Payments == nil || deps.Products == nil {
		t.Fatal("core repositories are not initialized")
	}
	if deps.Branches == nil || deps.Deliveries == nil {
		t.Fatal("catalog repositories are not initialized")
	}
	if deps.Outbox == nil || deps.Timeline == nil || deps.Idempotency == nil {
		t.Fatal("infrastructure repositories are not initialized")
	}
	if deps.Gateway == nil {
		t.Fatal("payment gateway is not initialized")
	}

	if err := deps.Ping(context.Background()); err != nil {
		t.Fatalf("memory deps must always be reachable: %v", err)
	}
}

func TestNewDependencies_DemoCatalogSeeded(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	defer deps.Close()

	branch, err := deps.Branches.Get("branch-westlands")
	if err != nil {
		t.Fatalf("demo branch missing: %v", err)
	}
	if !branch.Active {
		t.Fatal("demo branch must be active")
	}

	product, err := deps.Products.Get("prod-oil-1l")
	if err != nil {
		t.Fatalf("demo product missing: %v", err)
	}
	if product.Stock <= 0 {
		t.Fatalf("demo product has no stock: %d", product.Stock)
	}
}

func TestNewDependencies_MockGatewayByDefault(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Gateway.(*mpesa.Mock); !ok {
		t.Fatalf("expected mock gateway without credentials, got %T", deps.Gateway)
	}
}

func TestNewDependencies_RealGatewayRequiresCallbackURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MpesaConsumerKey = "key"
	cfg.MpesaConsumerSecret = "secret"
	cfg.MpesaShortcode = "174379"
	cfg.MpesaPasskey = "passkey"
	// CallbackURL не задан.

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected gateway config error without callback url")
	}
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}
