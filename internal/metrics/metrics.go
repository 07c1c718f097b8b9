// Package metrics exposes reserve activity as Prometheus collectors.
package metrics

import (
	"net/http"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "obreserve"

// Metrics is an engine reporter that keeps counters of committed events.
type Metrics struct {
	registry *prometheus.Registry

	Events       *prometheus.CounterVec
	OpenOrders   *prometheus.GaugeVec
	TradedVolume *prometheus.CounterVec
	Burned       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed reserve events by type.",
		}, []string{"type"}),
		OpenOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Orders resting in each list.",
		}, []string{"direction"}),
		TradedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume",
			Help:      "Taker input in whole units by direction.",
		}, []string{"direction"}),
		Burned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collateral_burned",
			Help:      "Collateral burned as fees, in whole units.",
		}),
	}
	m.registry.MustRegister(m.Events, m.OpenOrders, m.TradedVolume, m.Burned)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetOpenOrders seeds the open order gauge, e.g. after a restore.
func (m *Metrics) SetOpenOrders(dir Direction, n int) {
	m.OpenOrders.WithLabelValues(dir.String()).Set(float64(n))
}

func (m *Metrics) Report(event Event) {
	m.Events.WithLabelValues(event.Type.String()).Inc()

	dir := event.Direction.String()
	switch event.Type {
	case OrderSubmitted:
		m.OpenOrders.WithLabelValues(dir).Inc()
	case OrderCanceled:
		m.OpenOrders.WithLabelValues(dir).Dec()
	case FullOrderTaken, PartialOrderTaken:
		if event.Removed {
			m.OpenOrders.WithLabelValues(dir).Dec()
		}
		m.Burned.Add(units(&event.Burned))
	case Traded:
		m.TradedVolume.WithLabelValues(dir).Add(units(&event.SrcAmount))
	}
}

// units converts an 18-decimal amount to a float for reporting.
func units(v *uint256.Int) float64 {
	if v.IsZero() {
		return 0
	}
	return decimal.NewFromBigInt(v.ToBig(), -18).InexactFloat64()
}
