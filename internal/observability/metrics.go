package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "dispatch_queue"

// Metrics stores Prometheus collectors used by the admin API and the engine.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	itemsDeliveredTotal   prometheus.Counter
	itemsFailedTotal      *prometheus.CounterVec
	itemRetriesTotal      prometheus.Counter
	providerSendDuration  prometheus.Histogram
	ticksTotal            *prometheus.CounterVec
	batchesCompletedTotal prometheus.Counter
	engineRunning         prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		itemsDeliveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "items_delivered_total",
				Help:      "Total number of dispatch items delivered.",
			},
		),
		itemsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "items_failed_total",
				Help:      "Total number of dispatch items that ended in error, by reason.",
			},
			[]string{"reason"},
		),
		itemRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "item_retries_total",
				Help:      "Total number of failed attempts left pending for a later tick.",
			},
		),
		providerSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "provider_send_duration_seconds",
				Help:      "Provider send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ticks_total",
				Help:      "Total number of processing ticks by outcome.",
			},
			[]string{"outcome"},
		),
		batchesCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_completed_total",
				Help:      "Total number of batches sealed as done.",
			},
		),
		engineRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "engine_running",
				Help:      "1 while the dispatch engine is processing, 0 otherwise.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.itemsDeliveredTotal,
		m.itemsFailedTotal,
		m.itemRetriesTotal,
		m.providerSendDuration,
		m.ticksTotal,
		m.batchesCompletedTotal,
		m.engineRunning,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latency. statusOf maps a handler
// error to the status the error handler will send; nil treats every non-fiber
// error as a 500.
func (m *Metrics) HTTPMiddleware(statusOf func(error) int) fiber.Handler {
	if statusOf == nil {
		statusOf = defaultErrorStatus
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err, statusOf), time.Since(start))
		return err
	}
}

func (m *Metrics) IncItemDelivered() {
	if m == nil {
		return
	}
	m.itemsDeliveredTotal.Inc()
}

func (m *Metrics) IncItemFailed(reason string) {
	if m == nil {
		return
	}
	m.itemsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncItemRetry() {
	if m == nil {
		return
	}
	m.itemRetriesTotal.Inc()
}

func (m *Metrics) ObserveProviderSend(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.Observe(seconds)
}

func (m *Metrics) IncTick(outcome string) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncBatchCompleted() {
	if m == nil {
		return
	}
	m.batchesCompletedTotal.Inc()
}

func (m *Metrics) SetEngineRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.engineRunning.Set(1)
		return
	}
	m.engineRunning.Set(0)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error, statusOf func(error) int) int {
	if err != nil {
		return statusOf(err)
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func defaultErrorStatus(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
