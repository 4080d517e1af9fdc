// Package metrics provides Prometheus instrumentation for the simulation
// server.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bizsim/internal/game"
)

var (
	// EventsTotal counts session events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizsim_session_events_total",
		Help: "Session events published, by type",
	}, []string{"type"})

	QuartersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bizsim_quarters_completed_total",
		Help: "Quarter ticks completed across all sessions",
	})

	// CompaniesPerTick is the number of companies simulated in one tick.
	CompaniesPerTick = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bizsim_tick_companies",
		Help:    "Companies simulated per quarter tick",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
	})

	MarketShocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bizsim_market_shocks_total",
		Help: "Stochastic market shocks applied",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bizsim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizsim_notifications_failed_total",
		Help: "Chat notifications that failed after retries",
	}, []string{"channel"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizsim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bizsim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Recorder turns session events into metric updates.
type Recorder struct{}

func (Recorder) Publish(_ context.Context, ev game.Event) {
	EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type != game.EventQuarterCompleted {
		return
	}
	QuartersCompleted.Inc()
	CompaniesPerTick.Observe(float64(len(ev.Results)))
	MarketShocks.Add(float64(len(ev.Messages)))
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The path label is the chi
// route pattern, so ids in the URL do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
