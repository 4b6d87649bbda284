// Package metrics registers the core's observability hooks against
// Prometheus, following the teacher's prom.NewGaugeVec/prom.MustRegister
// idiom in pilot/pkg/bootstrap/server.go.
package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric the core emits. Construct one per
// process with NewCollectors and register it on a *prom.Registry (or the
// default registry) at start-up.
type Collectors struct {
	ReconnectTransitions prom.Counter
	LeaseLostEvents      prom.Counter
	InFlightRPCs         prom.Gauge
	ErrorsByCode         *prom.CounterVec
	OutboundLatency      prom.Histogram
}

// NewCollectors builds a fresh, unregistered Collectors set. buckets
// defaults to prom.DefBuckets when zero-valued, matching the teacher's
// convention of only overriding histogram buckets when the embedder cares.
func NewCollectors(buckets []float64) *Collectors {
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	return &Collectors{
		ReconnectTransitions: prom.NewCounter(prom.CounterOpts{
			Namespace: "pitaya",
			Subsystem: "transport",
			Name:      "reconnect_transitions_total",
			Help:      "Number of transport reconnect transitions observed.",
		}),
		LeaseLostEvents: prom.NewCounter(prom.CounterOpts{
			Namespace: "pitaya",
			Subsystem: "discovery",
			Name:      "lease_lost_total",
			Help:      "Number of times the local lease was lost and the agent degraded.",
		}),
		InFlightRPCs: prom.NewGauge(prom.GaugeOpts{
			Namespace: "pitaya",
			Subsystem: "dispatch",
			Name:      "in_flight_rpcs",
			Help:      "Number of inbound RPCs currently being handled.",
		}),
		ErrorsByCode: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pitaya",
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Number of PIT-* structured error replies emitted, by code.",
		}, []string{"code"}),
		OutboundLatency: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "pitaya",
			Subsystem: "router",
			Name:      "outbound_rpc_latency_seconds",
			Help:      "Latency of outbound RPCs from send to reply.",
			Buckets:   buckets,
		}),
	}
}

// MustRegister registers every collector on reg, panicking on a duplicate
// registration (mirrors prom.MustRegister's contract for process-lifetime
// singletons).
func (c *Collectors) MustRegister(reg *prom.Registry) {
	reg.MustRegister(
		c.ReconnectTransitions,
		c.LeaseLostEvents,
		c.InFlightRPCs,
		c.ErrorsByCode,
		c.OutboundLatency,
	)
}

// OnDisconnect, OnReconnect, and OnClosed satisfy internal/transport's
// ReconnectObserver, so a Collectors value can be passed directly as
// transport.Options.Observer.
func (c *Collectors) OnDisconnect(error) { c.ReconnectTransitions.Inc() }
func (c *Collectors) OnReconnect()       { c.ReconnectTransitions.Inc() }
func (c *Collectors) OnClosed()          {}
