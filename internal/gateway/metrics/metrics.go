// Package metrics collects the gateway's Prometheus metrics.
//
// A Metrics value owns a private registry so several gateways (and tests) can live
// in one process. It satisfies the observer interfaces of the session, turn and
// oauth packages:
//
//	m := metrics.New()
//	sessions := session.NewManager(session.WithObserver(m))
//	runner := turn.NewRunner(sessions, eng, exchanger, turn.WithObserver(m))
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tansive/agentgateway/internal/common/httpx"
	"github.com/tansive/agentgateway/internal/gateway/oauth"
	"github.com/tansive/agentgateway/internal/gateway/session"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

const namespace = "agentgw"

type Metrics struct {
	registry *prometheus.Registry

	// Turns counts finished turns. Labels: outcome (done|pending_auth|failed|cancelled)
	Turns *prometheus.CounterVec

	// TurnDuration measures turn latency in seconds. Labels: outcome
	TurnDuration *prometheus.HistogramVec

	// PendingAuthTotal counts turns suspended for authorization. Labels: provider
	PendingAuthTotal *prometheus.CounterVec

	// TokenExchanges counts authorization code exchanges. Labels: provider, status (success|error)
	TokenExchanges *prometheus.CounterVec

	// TokenRefreshes counts refresh attempts. Labels: provider, result (refreshed|failed|superseded)
	TokenRefreshes *prometheus.CounterVec

	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// HTTPRequests counts requests. Labels: method, route, status_code
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration measures request latency. Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	_ session.Observer = (*Metrics)(nil)
	_ turn.Observer    = (*Metrics)(nil)
	_ oauth.Recorder   = (*Metrics)(nil)
)

// New creates the metrics on a fresh registry that also carries the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the gateway metrics on reg only.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of chat turns by outcome",
		}, []string{"outcome"}),

		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of chat turns in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		PendingAuthTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_auth_total",
			Help:      "Total number of turns suspended for provider authorization",
		}, []string{"provider"}),

		TokenExchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "Total number of authorization code exchanges by provider and status",
		}, []string{"provider", "status"}),

		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Total number of token refresh attempts by provider and result",
		}, []string{"provider", "result"}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of live sessions",
		}),

		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SessionCreated() {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionDeleted() {
	m.ActiveSessions.Dec()
}

func (m *Metrics) TurnFinished(outcome string, elapsed time.Duration) {
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) PendingAuth(provider string) {
	m.PendingAuthTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) ExchangeCompleted(provider string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TokenExchanges.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RefreshCompleted(provider, result string) {
	m.TokenRefreshes.WithLabelValues(provider, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency by chi route pattern, so path
// parameters such as session ids do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := httpx.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
