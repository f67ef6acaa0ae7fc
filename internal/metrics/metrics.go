// Package metrics exposes Prometheus collectors for the market-data feed and
// the price simulators. A nil *Metrics is valid and records nothing, so
// components can be built without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sandbox"

// Metrics groups every collector the sandbox reports.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsOpen   prometheus.Gauge
	FramesSent        *prometheus.CounterVec
	SendFailures      prometheus.Counter
	Broadcasts        *prometheus.CounterVec
	PollFetchErrors   prometheus.Counter
	PollerRecoveries  prometheus.Counter
	SimulationsActive prometheus.Gauge
	PriceWrites       *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connections_open",
			Help:      "Number of registered feed connections",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "frames_sent_total",
			Help:      "Frames queued to connections by message type",
		}, []string{"type"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "send_failures_total",
			Help:      "Sends that failed and caused a connection to be dropped",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "broadcasts_total",
			Help:      "Price change broadcasts by channel",
		}, []string{"channel"}),
		PollFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "poll_fetch_errors_total",
			Help:      "Price reads that failed during a poll tick",
		}),
		PollerRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "poller_recoveries_total",
			Help:      "Poll ticks that failed unexpectedly and triggered a backoff",
		}),
		SimulationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "active",
			Help:      "Number of running price simulations",
		}),
		PriceWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "writes_total",
			Help:      "Prices written to the price store by product",
		}, []string{"product_id"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectionsOpen,
		m.FramesSent,
		m.SendFailures,
		m.Broadcasts,
		m.PollFetchErrors,
		m.PollerRecoveries,
		m.SimulationsActive,
		m.PriceWrites,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.ConnectionsOpen.Set(float64(n))
	}
}

func (m *Metrics) FrameSent(msgType string) {
	if m != nil {
		m.FramesSent.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) Broadcast(channel string) {
	if m != nil {
		m.Broadcasts.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) FetchFailed() {
	if m != nil {
		m.PollFetchErrors.Inc()
	}
}

func (m *Metrics) PollerRecovered() {
	if m != nil {
		m.PollerRecoveries.Inc()
	}
}

func (m *Metrics) SetSimulations(n int) {
	if m != nil {
		m.SimulationsActive.Set(float64(n))
	}
}

func (m *Metrics) PriceWritten(productID string) {
	if m != nil {
		m.PriceWrites.WithLabelValues(productID).Inc()
	}
}
