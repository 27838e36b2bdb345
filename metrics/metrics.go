package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the collectors exported on /metrics. Each instance owns its
// registry so tests can build isolated copies.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsOpened    *prometheus.CounterVec
	SessionsRejected  *prometheus.CounterVec
	OrdersCreated     *prometheus.CounterVec
	TxRetries         *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	StreamSubscribers prometheus.Gauge
	ExportsSent       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_sessions_opened_total",
			Help: "Ordering sessions opened, by redemption method.",
		}, []string{"method"}),
		SessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_sessions_rejected_total",
			Help: "Session validations rejected, by reason.",
		}, []string{"reason"}),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_orders_created_total",
			Help: "Orders committed, by order type.",
		}, []string{"type"}),
		TxRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_tx_retries_total",
			Help: "Transactions retried after store contention, by operation.",
		}, []string{"op"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_status_transitions_total",
			Help: "Order status transition attempts, by action and result.",
		}, []string{"action", "result"}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tableorder_stream_subscribers",
			Help: "Live feed subscribers currently connected.",
		}),
		ExportsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableorder_exports_total",
			Help: "External export records, by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		m.SessionsOpened,
		m.SessionsRejected,
		m.OrdersCreated,
		m.TxRetries,
		m.StatusTransitions,
		m.StreamSubscribers,
		m.ExportsSent,
		collectors.NewGoCollector(),
	)
	return m
}
