package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	"github.com/maina2/MM-backend/internal/gateway/mpesa"
	"github.com/maina2/MM-backend/internal/storage/memory"
	"github.com/maina2/MM-backend/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Payments    domain.PaymentRepository
	Products    domain.ProductRepository
	Branches    domain.BranchRepository
	Deliveries  domain.DeliveryRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Gateway     domain.PaymentGateway
	Logger      *log.Entry

	// pgStore не nil только при postgres driver; нужен для Ping и Close.
	pgStore *postgres.Store
}

// NewDependencies создаёт зависимости для выбранного storage driver.
// Пустой MpesaConsumerKey включает mock-шлюз.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if err := initPostgres(ctx, cfg, deps); err != nil {
			return nil, err
		}
	case StorageDriverMemory, "":
		initMemory(deps, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	gateway, err := initGateway(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Gateway = gateway

	return deps, nil
}

// Ping проверяет доступность хранилища (для readiness probe).
func (d *Dependencies) Ping(ctx context.Context) error {
	if d.pgStore == nil {
		return nil
	}
	return d.pgStore.Ping(ctx)
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d.pgStore == nil {
		return
	}
	if err := d.pgStore.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}

func initPostgres(ctx context.Context, cfg Config, deps *Dependencies) error {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	deps.pgStore = store
	deps.Orders = postgres.NewOrderRepository(store)
	deps.Payments = postgres.NewPaymentRepository(store)
	deps.Products = postgres.NewProductRepository(store)
	deps.Branches = postgres.NewBranchRepository(store)
	deps.Deliveries = postgres.NewDeliveryRepository(store)
	deps.Outbox = postgres.NewOutboxRepository(store)
	deps.Timeline = postgres.NewTimelineRepository(store)
	deps.Idempotency = postgres.NewIdempotencyRepository(store)
	return nil
}

func initMemory(deps *Dependencies, logger *log.Entry) {
	store := memory.NewStore()
	products := memory.NewProductRepository()
	branches := memory.NewBranchRepository()

	deps.Orders = store
	deps.Payments = store
	deps.Products = products
	deps.Branches = branches
	deps.Deliveries = memory.NewDeliveryRepository()
	deps.Outbox = memory.NewOutboxRepository()
	deps.Timeline = memory.NewTimelineRepository()
	deps.Idempotency = memory.NewIdempotencyRepository()

	seedDemoData(products, branches)
	logger.Info("in-memory storage initialized with demo catalog")
}

// seedDemoData наполняет in-memory каталог, чтобы dev-окружение позволяло
// оформить заказ сразу после запуска.
func seedDemoData(
	products interface{ Put(domain.Product) },
	branches interface{ Put(domain.Branch) },
) {
	branches.Put(domain.Branch{
		ID: "branch-westlands", Name: "Westlands", Address: "Waiyaki Way", Active: true,
	})
	branches.Put(domain.Branch{
		ID: "branch-cbd", Name: "Nairobi CBD", Address: "Moi Avenue", Active: true,
	})

	products.Put(domain.Product{
		ID: "prod-oil-1l", Name: "Cooking oil 1L", BranchID: "branch-westlands",
		Price: decimal.NewFromInt(320), Stock: 100,
	})
	products.Put(domain.Product{
		ID: "prod-flour-2kg", Name: "Maize flour 2kg", BranchID: "branch-westlands",
		Price: decimal.NewFromInt(185), Stock: 100,
	})
	products.Put(domain.Product{
		ID: "prod-sugar-1kg", Name: "Sugar 1kg", BranchID: "branch-cbd",
		Price: decimal.NewFromInt(155), Stock: 100,
	})
}

func initGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.MpesaConsumerKey == "" {
		logger.Warn("mpesa credentials are not configured, using mock payment gateway")
		return mpesa.NewMock(), nil
	}

	client, err := mpesa.New(mpesa.Config{
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		Shortcode:      cfg.MpesaShortcode,
		Passkey:        cfg.MpesaPasskey,
		BaseURL:        cfg.MpesaBaseURL,
		CallbackURL:    cfg.MpesaCallbackURL,
	}, logger.WithField("component", "mpesa-client"))
	if err != nil {
		return nil, fmt.Errorf("init mpesa client: %w", err)
	}
	return client, nil
}
