package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/maina2/MM-backend/internal/domain"
	healthcheck "github.com/maina2/MM-backend/internal/health"
	"github.com/maina2/MM-backend/internal/messaging/kafka"
	"github.com/maina2/MM-backend/internal/service/checkout"
	"github.com/maina2/MM-backend/internal/service/delivery"
	"github.com/maina2/MM-backend/internal/service/idempotency"
	"github.com/maina2/MM-backend/internal/service/outbox"
	"github.com/maina2/MM-backend/internal/service/recon"
	"github.com/maina2/MM-backend/internal/service/routing"
	httpapi "github.com/maina2/MM-backend/internal/transport/http"
	"github.com/maina2/MM-backend/internal/version"
)

// Run собирает все зависимости и запускает сервис: HTTP API, ops-листенер
// с метриками и health checks, воркеры outbox, cleanup и delivery dispatch.
// Блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	reconSvc := recon.NewService(
		deps.Orders,
		deps.Payments,
		deps.Products,
		deps.Outbox,
		deps.Timeline,
		nil,
		logger.WithField("component", "recon"),
	)
	checkoutSvc := checkout.NewService(
		deps.Orders,
		deps.Payments,
		deps.Products,
		deps.Branches,
		deps.Gateway,
		reconSvc,
		deps.Outbox,
		deps.Timeline,
		logger.WithField("component", "checkout"),
	)

	handler := httpapi.NewHandler(
		checkoutSvc,
		reconSvc,
		deps.Orders,
		deps.Payments,
		deps.Idempotency,
		logger.WithField("component", "http"),
	)

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return deps.Ping(pingCtx)
	}))

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler.Routes()}
	metricsSrv := startOpsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup

	startWorkers(workersCtx, &workers, cfg, deps, kafkaProducer, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startWorkers запускает фоновые воркеры: публикацию outbox (только при
// настроенном Kafka), очистку idempotency ключей и delivery dispatcher.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *Dependencies,
	producer *kafka.Producer,
	logger *log.Entry,
) {
	if producer != nil {
		publisher := kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic, cfg.PaymentEventsTopic)
		dlqPublisher := kafka.NewOutboxPublisher(producer, cfg.DLQTopic, cfg.DLQTopic)

		worker := outbox.NewWorker(
			deps.Outbox,
			publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	} else {
		logger.Info("kafka brokers are not configured, outbox worker is disabled")
	}

	cleanup := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()

	dispatcher := delivery.NewDispatcher(
		deps.Orders,
		deps.Deliveries,
		routing.NewNearestNeighbour(),
		delivery.WithLogger(logger.WithField("component", "delivery-dispatcher")),
		delivery.WithOutbox(deps.Outbox),
		delivery.WithTimeline(deps.Timeline),
		delivery.WithDepot(domain.GeoPoint{Latitude: cfg.DepotLatitude, Longitude: cfg.DepotLongitude}),
		delivery.WithPollInterval(cfg.DispatchPollInterval),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	if producer != nil {
		startOrderEventsConsumer(ctx, wg, cfg, deps.Orders, dispatcher, producer, logger.WithField("component", "order-events-consumer"))
	}
}

// startOpsServer запускает HTTP-обработчики /metrics и health checks.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
