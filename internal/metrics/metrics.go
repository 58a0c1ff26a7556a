package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the storefront collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Checkouts          *prometheus.CounterVec
	CheckoutDuration   prometheus.Histogram
	ReserveConflicts   prometheus.Counter
	ReservationsSwept  *prometheus.CounterVec
	LowStockEvents     prometheus.Counter
	ReconcileRequired  prometheus.Counter
	NotificationErrors *prometheus.CounterVec
	Requests           *prometheus.CounterVec
	LatencyMS          *prometheus.HistogramVec
}

// New builds the collectors under ramro_<service>_. Dashes and dots in the
// service name become underscores.
func New(service string) *Metrics {
	service = strings.NewReplacer("-", "_", ".", "_").Replace(service)
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "checkout_duration_seconds",
			Help:      "Time from validation to finalize.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300, 600},
		}),
		ReserveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "reserve_conflicts_total",
			Help:      "Version conflicts retried by the inventory ledger.",
		}),
		ReservationsSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "reservations_swept_total",
			Help:      "Expired holds settled by the sweeper.",
		}, []string{"action"}),
		LowStockEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "low_stock_events_total",
			Help:      "Low-stock events emitted after de-duplication.",
		}),
		ReconcileRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "reconcile_required_total",
			Help:      "Reservations left held after their order was created.",
		}),
		NotificationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "notification_errors_total",
			Help:      "Notification sends that failed.",
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ramro",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.Checkouts, m.CheckoutDuration, m.ReserveConflicts, m.ReservationsSwept,
		m.LowStockEvents, m.ReconcileRequired, m.NotificationErrors, m.Requests, m.LatencyMS,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CheckoutDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
	m.CheckoutDuration.Observe(d.Seconds())
}

func (m *Metrics) ReserveConflict() {
	if m == nil {
		return
	}
	m.ReserveConflicts.Inc()
}

func (m *Metrics) Swept(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReservationsSwept.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) LowStock() {
	if m == nil {
		return
	}
	m.LowStockEvents.Inc()
}

func (m *Metrics) Reconcile() {
	if m == nil {
		return
	}
	m.ReconcileRequired.Inc()
}

func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.NotificationErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}
