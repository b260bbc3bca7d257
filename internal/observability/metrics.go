package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	idempotencyCounter    *prometheus.CounterVec
	movementCounter       *prometheus.CounterVec
	sagaOutcomeCounter    *prometheus.CounterVec
	fatalCounter          prometheus.Counter
	ledgerCallHistogram   *prometheus.HistogramVec
	breakerStateGauge     *prometheus.GaugeVec
	pendingTransfersGauge prometheus.Gauge
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency key outcomes per domain",
		}, []string{"domain", "outcome"})

		movementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_movements_total",
			Help: "Movements applied to the ledger",
		}, []string{"kind"})

		sagaOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_saga_outcomes_total",
			Help: "Terminal transfer saga outcomes",
		}, []string{"outcome"})

		fatalCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transfer_fatal_inconsistency_total",
			Help: "Transfers whose origin was debited but neither credited nor reversed",
		})

		ledgerCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_client_request_duration_seconds",
			Help:    "Latency of calls from the transfer service to the ledger service",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"})

		breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"})

		pendingTransfersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transfer_pending_records",
			Help: "Transfer idempotency records without a result older than the pending age",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			movementCounter,
			sagaOutcomeCounter,
			fatalCounter,
			ledgerCallHistogram,
			breakerStateGauge,
			pendingTransfersGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(domain, outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(domain, outcome).Inc()
}

func IncrementMovement(kind string) {
	if movementCounter == nil {
		return
	}
	movementCounter.WithLabelValues(kind).Inc()
}

func IncrementSagaOutcome(outcome string) {
	if sagaOutcomeCounter == nil {
		return
	}
	sagaOutcomeCounter.WithLabelValues(outcome).Inc()
}

func IncrementFatalInconsistency() {
	if fatalCounter == nil {
		return
	}
	fatalCounter.Inc()
}

func ObserveLedgerCall(operation, result string, duration time.Duration) {
	if ledgerCallHistogram == nil {
		return
	}
	ledgerCallHistogram.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func SetBreakerState(name string, state int) {
	if breakerStateGauge == nil {
		return
	}
	breakerStateGauge.WithLabelValues(name).Set(float64(state))
}

func SetPendingTransfers(n int) {
	if pendingTransfersGauge == nil {
		return
	}
	pendingTransfersGauge.Set(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
