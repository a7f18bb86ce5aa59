package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики системы. Регистрируются в default registry и отдаются
// каждым сервисом на /metrics через promhttp.
var (
	// RunsCompleted — завершённые runs по финальному статусу.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_completed_total",
		Help: "Completed pipeline runs by terminal status.",
	}, []string{"status"})

	// RunsSuperseded — runs, отменённые более новым run той же группы.
	RunsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_runs_superseded_total",
		Help: "Runs cancelled because a newer run of the same concurrency group arrived.",
	})

	// JobsCompleted — завершённые jobs по исходу.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_jobs_completed_total",
		Help: "Completed jobs by outcome.",
	}, []string{"outcome"})

	// JobDuration — продолжительность выполнения jobs.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_job_duration_seconds",
		Help:    "Wall-clock duration of executed jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
	})

	// CacheOperations — операции с кэшем по типу и результату.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_cache_operations_total",
		Help: "Cache restore/save operations by result.",
	}, []string{"op", "result"})

	// HTTPRequests — HTTP-запросы к API по методу, маршруту и коду ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_http_requests_total",
		Help: "HTTP requests handled by the API server.",
	}, []string{"method", "path", "code"})
)
