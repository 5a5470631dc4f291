package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	BonusPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_bonus_points_total",
			Help: "Bonus points appended to the ledger by direction",
		},
		[]string{"type"},
	)

	SessionOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_session_operations_total",
			Help: "Session credit operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	PackagesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_packages_expired_total",
			Help: "Training packages moved to expired by sweeps",
		},
	)

	ConcurrencyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_concurrency_retries_total",
			Help: "Atomic units retried after lock or serialization conflicts",
		},
		[]string{"operation"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		BonusPoints,
		SessionOperations,
		PackagesExpired,
		ConcurrencyRetries,
	)
}
