package clearing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла операция (включая vault и хранилище)
	RequestDuration *prometheus.HistogramVec

	// Traffic: записанные документы
	LoggedDocuments prometheus.Counter

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Целостность: отказ линковки цепочки — повод для алерта
	ChainLinkFailures prometheus.Counter

	// Saturation: состояние Circuit Breaker на vault (0 - ок, 1 - выбило)
	VaultBreakerState prometheus.Gauge

	// Журнал доступа: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном
	// реестре и никуда не экспортируются
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clearing_request_duration_seconds",
			Help:    "Histogram of clearing operation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),

		LoggedDocuments: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "clearing_logged_documents_total",
			Help: "Total number of documents appended to the log.",
		}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "clearing_errors_total",
			Help: "Total number of errors by kind.",
		}, []string{"kind"}), // validation, unauthorized, not_found, conflict, internal

		ChainLinkFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "clearing_chain_link_failures_total",
			Help: "Writes aborted because the predecessor hash could not be resolved.",
		}),

		VaultBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clearing_vault_breaker_state",
			Help: "Current state of the vault circuit breaker (0=closed, 1=open).",
		}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clearing_journal_buffer_utilization",
			Help: "Current number of events in the access journal buffer.",
		}),
	}
}
