// Package metrics exposes the counters spec.md's error-handling and
// sighting-store sections call for (dropped sightings, queue
// overflows, gateway join/reconnect counts) as prometheus collectors,
// grounded on _examples/wyf-ACCEPT-eth2030/pkg (which pulls in
// github.com/prometheus/client_golang for the same purpose: counters
// wired to domain events, rendered as plain text rather than served
// over a dedicated HTTP listener).
//
// Render writes the current values in Prometheus text exposition
// format; spec.md's Non-goals exclude a metrics HTTP endpoint, so
// instead supervisor.runHealthWriter periodically writes Render's
// output, followed by one status line, to the health-log file
// gateway.FileHealthLog reads. A PollHealthReport reply carries only
// the file's last non-empty line (that status line); the rendered
// metrics stay in the file.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/OpenISDM/lbeacon/internal/sighting"
)

// Registry bundles every counter this firmware exposes.
type Registry struct {
	reg *prometheus.Registry

	SightingsDropped  *prometheus.CounterVec
	QueueOverflow     prometheus.Counter
	GatewayJoins      prometheus.Counter
	GatewayReconnects prometheus.Counter
}

// NewRegistry builds and registers every counter.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SightingsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lbeacon_sightings_dropped_total",
			Help: "Sightings dropped before admission to the sighting store, by reason.",
		}, []string{"reason"}),
		QueueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lbeacon_tracked_queue_overflow_total",
			Help: "Tracked-object queue entries evicted due to overflow.",
		}),
		GatewayJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lbeacon_gateway_joins_total",
			Help: "JoinRequest packets sent to the gateway.",
		}),
		GatewayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lbeacon_gateway_reconnects_total",
			Help: "Transitions from Ready back to Joining.",
		}),
	}
	reg.MustRegister(r.SightingsDropped, r.QueueOverflow, r.GatewayJoins, r.GatewayReconnects)
	return r
}

// DropHook adapts the registry to sighting.WithDropHook, incrementing
// the appropriate counter for each drop reason.
func (r *Registry) DropHook() func(sighting.DropReason) {
	return func(reason sighting.DropReason) {
		switch reason {
		case sighting.DropStoreFull:
			r.SightingsDropped.WithLabelValues("store_full").Inc()
		case sighting.DropQueueOverflow:
			r.SightingsDropped.WithLabelValues("queue_overflow").Inc()
			r.QueueOverflow.Inc()
		default:
			r.SightingsDropped.WithLabelValues(string(reason)).Inc()
		}
	}
}

// Render writes every registered metric in Prometheus text exposition
// format, for inclusion in a health report line.
func (r *Registry) Render() (string, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
