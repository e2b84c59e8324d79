package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/agency-billing-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the settlement engine.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	runsTotal     *prometheus.CounterVec
	partiesTotal  *prometheus.CounterVec
	settledAmount *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_runs_total",
		Help: "Total settlement runs by billing type",
	}, []string{"billing_type"})

	partiesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_parties_total",
		Help: "Parties handled during settlement runs",
	}, []string{"billing_type", "result"})

	settledAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_amount_total",
		Help: "Total monetary amount settled",
	}, []string{"billing_type"})

	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_run_duration_seconds",
		Help:    "Duration of settlement runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"billing_type"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, runsTotal, partiesTotal, settledAmount, runDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		runsTotal:       runsTotal,
		partiesTotal:    partiesTotal,
		settledAmount:   settledAmount,
		runDuration:     runDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveRun records the outcome of one settlement run.
func (m *MetricsService) ObserveRun(report *models.RunReport) {
	if m == nil || report == nil {
		return
	}
	bt := string(report.BillingType)
	m.runsTotal.WithLabelValues(bt).Inc()
	m.partiesTotal.WithLabelValues(bt, "settled").Add(float64(report.PartiesProcessed))
	m.partiesTotal.WithLabelValues(bt, "failed").Add(float64(report.PartiesFailed))
	amount, _ := report.TotalAmount.Float64()
	m.settledAmount.WithLabelValues(bt).Add(amount)
	m.runDuration.WithLabelValues(bt).Observe(report.Duration.Seconds())
}
