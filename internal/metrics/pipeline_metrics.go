package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказа.
type CheckoutMetrics struct {
	// Счётчики операций
	checkoutStarted  prometheus.Counter
	checkoutAccepted prometheus.Counter
	checkoutRejected *prometheus.CounterVec
	checkoutFailed   prometheus.Counter

	// Гистограмма времени оформления
	checkoutDuration prometheus.Histogram

	// Счётчики компенсаций
	stockReleased prometheus.Counter
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_checkout_started_total",
			Help: "Total number of checkout attempts started",
		}),
		checkoutAccepted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_checkout_accepted_total",
			Help: "Total number of checkouts accepted with payment initiated",
		}),
		checkoutRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "mm_checkout_rejected_total",
			Help: "Total number of checkouts rejected grouped by reason",
		}, []string{"reason"}),
		checkoutFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_checkout_failed_total",
			Help: "Total number of checkouts failed on payment initiation",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "mm_checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stockReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_checkout_stock_released_total",
			Help: "Total number of stock reservations released during checkout compensation",
		}),
	}
}

// RecordCheckoutStarted увеличивает счётчик начатых оформлений.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
}

// RecordCheckoutAccepted увеличивает счётчик принятых оформлений.
func (m *CheckoutMetrics) RecordCheckoutAccepted() {
	m.checkoutAccepted.Inc()
}

// RecordCheckoutRejected увеличивает счётчик отклонённых оформлений.
func (m *CheckoutMetrics) RecordCheckoutRejected(reason string) {
	m.checkoutRejected.WithLabelValues(reason).Inc()
}

// RecordCheckoutFailed увеличивает счётчик провалившихся оформлений.
func (m *CheckoutMetrics) RecordCheckoutFailed() {
	m.checkoutFailed.Inc()
}

// RecordCheckoutDuration записывает время оформления заказа.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordStockReleased увеличивает счётчик компенсаций резерва.
func (m *CheckoutMetrics) RecordStockReleased() {
	m.stockReleased.Inc()
}

// ReconMetrics содержит метрики обработки callback и компенсаций.
type ReconMetrics struct {
	callbacksProcessed *prometheus.CounterVec
	callbacksReplayed  prometheus.Counter
	callbacksUnknown   prometheus.Counter
	compensations      prometheus.Counter
}

// NewReconMetrics создаёт новый экземпляр метрик reconciliation.
func NewReconMetrics() *ReconMetrics {
	return newReconMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newReconMetricsWithRegisterer(registerer prometheus.Registerer) *ReconMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconMetrics{
		callbacksProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "mm_recon_callbacks_processed_total",
			Help: "Total number of gateway callbacks processed grouped by outcome",
		}, []string{"outcome"}),
		callbacksReplayed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_recon_callbacks_replayed_total",
			Help: "Total number of duplicate callbacks acknowledged without state change",
		}),
		callbacksUnknown: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_recon_callbacks_unknown_total",
			Help: "Total number of callbacks with unknown correlation id",
		}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mm_recon_compensations_total",
			Help: "Total number of compensations applied for failed payments",
		}),
	}
}

// RecordCallback увеличивает счётчик обработанных callback с меткой результата.
func (m *ReconMetrics) RecordCallback(outcome string) {
	m.callbacksProcessed.WithLabelValues(outcome).Inc()
}

// RecordReplay увеличивает счётчик повторных доставок.
func (m *ReconMetrics) RecordReplay() {
	m.callbacksReplayed.Inc()
}

// RecordUnknown увеличивает счётчик callback без известного платежа.
func (m *ReconMetrics) RecordUnknown() {
	m.callbacksUnknown.Inc()
}

// RecordCompensation увеличивает счётчик компенсаций.
func (m *ReconMetrics) RecordCompensation() {
	m.compensations.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}
