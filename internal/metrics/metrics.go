package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatcher outcomes for the /metrics endpoint.
type Metrics struct {
	Dispatches prometheus.Counter
	Successes  prometheus.Counter
	Throttles  prometheus.Counter
	Retries    prometheus.Counter
	Exhausted  prometheus.Counter
	Names      prometheus.Gauge
}

// New builds the metric set and registers it. Pass nil to use the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namesweep_dispatches_total",
			Help: "Requests issued to the lookup API, including retries",
		}),
		Successes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namesweep_successes_total",
			Help: "Queries that returned a well-formed response",
		}),
		Throttles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namesweep_throttles_total",
			Help: "429 responses from the lookup API",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namesweep_transient_retries_total",
			Help: "Retries after transport or server failures",
		}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namesweep_exhausted_total",
			Help: "Queries recorded as failed after the retry budget ran out",
		}),
		Names: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "namesweep_names_discovered",
			Help: "Distinct names in the current aggregate",
		}),
	}
	reg.MustRegister(m.Dispatches, m.Successes, m.Throttles, m.Retries, m.Exhausted, m.Names)
	return m
}
