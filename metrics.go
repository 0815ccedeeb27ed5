package postchain

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eringen/postchain/chain"
)

// Metrics holds the Prometheus collectors for one App. Each App gets its own
// registry so several can live in one process.
type Metrics struct {
	Registry   *prometheus.Registry
	Operations *prometheus.CounterVec
	Events     *prometheus.CounterVec
}

// NewMetrics registers the postchain collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "postchain",
				Name:      "operations_total",
				Help:      "Chain operations by name and outcome.",
			},
			[]string{"op", "outcome"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "postchain",
				Name:      "events_total",
				Help:      "Post events emitted after commit, by label.",
			},
			[]string{"label"},
		),
	}
	m.Registry.MustRegister(
		m.Operations,
		m.Events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Emit counts a committed event.
func (m *Metrics) Emit(_ context.Context, ev chain.PostEvent) error {
	m.Events.WithLabelValues(string(ev.Label)).Inc()
	return nil
}

// Observe records the outcome of an operation.
func (m *Metrics) Observe(op string, err error) {
	m.Operations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case chain.IsValidation(err):
		return "validation"
	case chain.IsAuthorization(err):
		return "authorization"
	case chain.IsConsistency(err):
		return "consistency"
	case chain.IsStorage(err):
		return "storage"
	default:
		return "error"
	}
}
