// Package metrics exposes the per-session telemetry counters named in
// the client session data model as Prometheus instruments, the way
// hypersdk and QuantaraX mount github.com/prometheus/client_golang
// registries behind an HTTP handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns every counter/gauge the reliable pipeline and worker
// pools report through. It is created once in main and passed by
// reference to the components that increment it.
type Registry struct {
	reg *prometheus.Registry

	sent    *prometheus.CounterVec
	resent  *prometheus.CounterVec
	dropped *prometheus.CounterVec
	acked   *prometheus.CounterVec

	poolQueueDepth *prometheus.GaugeVec
}

// NewRegistry builds a fresh, empty Prometheus registry with all
// instruments pre-registered.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.sent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunk_frames_sent_total",
		Help: "Chunk frames sent, per player.",
	}, []string{"player_id"})

	r.resent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunk_frames_resent_total",
		Help: "Chunk frames retransmitted, per player.",
	}, []string{"player_id"})

	r.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunk_frames_dropped_total",
		Help: "Chunk frames dropped after exceeding max retries, per player.",
	}, []string{"player_id"})

	r.acked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chunk_frames_acked_total",
		Help: "Chunk frames acknowledged via chunk_have, per player.",
	}, []string{"player_id"})

	r.poolQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_pool_queue_depth",
		Help: "Current queue depth of a worker pool.",
	}, []string{"pool"})

	r.reg.MustRegister(r.sent, r.resent, r.dropped, r.acked, r.poolQueueDepth)

	return r
}

// Registerer exposes the underlying registry as a prometheus.Gatherer
// for mounting a promhttp handler in main.
func (r *Registry) Registerer() prometheus.Gatherer { return r.reg }

func (r *Registry) IncSent(playerID string)    { r.sent.WithLabelValues(playerID).Inc() }
func (r *Registry) IncResent(playerID string)  { r.resent.WithLabelValues(playerID).Inc() }
func (r *Registry) IncDropped(playerID string) { r.dropped.WithLabelValues(playerID).Inc() }
func (r *Registry) IncAcked(playerID string)   { r.acked.WithLabelValues(playerID).Inc() }

// SetPoolQueueDepth reports the current depth of a named worker pool
// queue (e.g. "generator", "serializer").
func (r *Registry) SetPoolQueueDepth(pool string, n int) {
	r.poolQueueDepth.WithLabelValues(pool).Set(float64(n))
}
