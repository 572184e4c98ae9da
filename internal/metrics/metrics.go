// Package metrics exposes Prometheus collectors for the wallet core.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletcore",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletcore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	sessionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations (connect, reconnect, disconnect) by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	balanceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "balance",
			Name:      "fetches_total",
			Help:      "Balance fetches by outcome (ok, error, shared).",
		},
		[]string{"outcome"},
	)

	rateLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "rates",
			Name:      "lookups_total",
			Help:      "Rate cache lookups by result (hit, miss, shared).",
		},
		[]string{"result"},
	)

	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "payment",
			Name:      "sends_total",
			Help:      "Transaction submissions by outcome.",
		},
		[]string{"outcome"},
	)

	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "walletcore",
			Subsystem: "payment",
			Name:      "send_duration_seconds",
			Help:      "Duration of transaction submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sessionOps,
		balanceFetches,
		rateLookups,
		sends,
		sendDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSessionOp records a session operation outcome.
func RecordSessionOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sessionOps.WithLabelValues(operation, outcome).Inc()
}

// RecordBalanceFetch records a balance fetch outcome.
func RecordBalanceFetch(outcome string) {
	balanceFetches.WithLabelValues(outcome).Inc()
}

// RecordRateLookup records a rate cache lookup result.
func RecordRateLookup(result string) {
	rateLookups.WithLabelValues(result).Inc()
}

// RecordSend records a transaction submission outcome and duration.
func RecordSend(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sends.WithLabelValues(outcome).Inc()
	sendDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack delegates to the underlying writer so websocket upgrades work
// through the instrumented handler.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "rates":
		return "/rates/:symbol/:currency"
	case "session", "wallet", "transactions", "notifications", "events", "healthz":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		return "/" + parts[0] + "/" + parts[1]
	default:
		return "/" + parts[0]
	}
}
