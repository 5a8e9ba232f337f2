package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// OrderMetrics counts order lifecycle outcomes
type OrderMetrics struct {
	Placed              prometheus.Counter
	Failed              *prometheus.CounterVec
	Cancelled           prometheus.Counter
	StatusChanges       *prometheus.CounterVec
	OfferUnitsAllocated *prometheus.CounterVec
	UnitsReserved       prometheus.Counter
}

// NewOrderMetrics creates order collectors and registers them on reg
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	m := &OrderMetrics{
		Placed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Total number of orders placed.",
		}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "place_failures_total",
			Help:      "Order placements rejected, by reason.",
		}, []string{"reason"}),
		Cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Total number of orders cancelled.",
		}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_changes_total",
			Help:      "Order status transitions, by target status.",
		}, []string{"status"}),
		OfferUnitsAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offers",
			Name:      "units_allocated_total",
			Help:      "Limited offer units allocated to order lines, by product.",
		}, []string{"product_id"}),
		UnitsReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "units_reserved_total",
			Help:      "Stock units reserved by placed orders.",
		}),
	}

	reg.MustRegister(m.Placed, m.Failed, m.Cancelled, m.StatusChanges, m.OfferUnitsAllocated, m.UnitsReserved)
	return m
}

// ServerMetrics records HTTP traffic
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics creates HTTP collectors and registers them on reg
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route", "method"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Handler serves the collectors registered on g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
