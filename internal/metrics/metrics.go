package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the store method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records store Get calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records store Put attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a store lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a store write.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	CacheStoreError  CacheStoreOutcome = "error"
)

// ServeOutcome labels how the engine satisfied a request.
type ServeOutcome string

const (
	ServeFresh  ServeOutcome = "fresh"
	ServeStale  ServeOutcome = "stale"
	ServeMiss   ServeOutcome = "miss"
	ServeBypass ServeOutcome = "bypass"
)

// Fallback labels the degrade path taken when a producer fails.
type Fallback string

const (
	FallbackOffline Fallback = "offline"
	FallbackStale   Fallback = "stale"
	FallbackFailure Fallback = "failure"
)

// TaskOutcome labels the terminal state of a background task.
type TaskOutcome string

const (
	TaskCompleted TaskOutcome = "completed"
	TaskFailed    TaskOutcome = "failed"
	TaskPanicked  TaskOutcome = "panicked"
	TaskDropped   TaskOutcome = "dropped"
)

// Recorder publishes Prometheus metrics for the response cache and the site.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	revalidations *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	notModified   *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hnedge",
		Subsystem: "site",
		Name:      "requests_total",
		Help:      "Page requests served through the response cache.",
	}, []string{"namespace", "outcome", "status_code"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hnedge",
		Subsystem: "site",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for page requests.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"namespace", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hnedge",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache store operations executed by the engine.",
	}, []string{"namespace", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hnedge",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"namespace", "operation", "result"})

	revalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hnedge",
		Subsystem: "cache",
		Name:      "revalidations_total",
		Help:      "Background revalidations by result.",
	}, []string{"namespace", "result"})

	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hnedge",
		Subsystem: "cache",
		Name:      "fallbacks_total",
		Help:      "Degraded responses served after a producer failure.",
	}, []string{"namespace", "kind"})

	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hnedge",
		Subsystem: "background",
		Name:      "tasks_total",
		Help:      "Background tasks by name and terminal state.",
	}, []string{"task", "result"})

	notModified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hnedge",
		Subsystem: "site",
		Name:      "not_modified_total",
		Help:      "Conditional requests answered with 304 Not Modified.",
	}, []string{"namespace"})

	reg.MustRegister(requests, latency, cacheOperations, cacheLatency, revalidations, fallbacks, tasks, notModified)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		requests:        requests,
		latency:         latency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		revalidations:   revalidations,
		fallbacks:       fallbacks,
		tasks:           tasks,
		notModified:     notModified,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveServe records the outcome and latency of a request handled by the engine.
func (r *Recorder) ObserveServe(namespace string, outcome ServeOutcome, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	nsLabel := normalizeLabel(namespace)
	outcomeLabel := normalizeLabel(string(outcome))
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(nsLabel, outcomeLabel, statusLabel).Inc()
	r.latency.WithLabelValues(nsLabel, outcomeLabel).Observe(duration.Seconds())
	if statusCode == http.StatusNotModified {
		r.notModified.WithLabelValues(nsLabel).Inc()
	}
}

// ObserveCacheLookup records the result of a store lookup.
func (r *Recorder) ObserveCacheLookup(namespace string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(namespace), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a store write.
func (r *Recorder) ObserveCacheStore(namespace string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(namespace), CacheOperationStore, resultLabel, duration)
}

// ObserveRevalidation counts a finished background revalidation.
func (r *Recorder) ObserveRevalidation(namespace string, ok bool) {
	if r == nil {
		return
	}
	result := "refreshed"
	if !ok {
		result = "failed"
	}
	r.revalidations.WithLabelValues(normalizeLabel(namespace), result).Inc()
}

// ObserveFallback counts a degraded response.
func (r *Recorder) ObserveFallback(namespace string, kind Fallback) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(normalizeLabel(namespace), normalizeLabel(string(kind))).Inc()
}

// ObserveTask counts a background task reaching a terminal state.
func (r *Recorder) ObserveTask(task string, outcome TaskOutcome) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(normalizeLabel(task), normalizeLabel(string(outcome))).Inc()
}

func (r *Recorder) observeCache(namespace string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(namespace, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(namespace, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
