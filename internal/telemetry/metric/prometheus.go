package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "objmesh"

// Result labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// Remote change outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeDropped = "dropped"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	ObjectsActive  prometheus.Gauge
	EngineOps      *prometheus.CounterVec
	BridgeCalls    *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec
	SyncPulls      *prometheus.CounterVec
	RemoteChanges  *prometheus.CounterVec
	DevicesOnline  prometheus.Gauge
}

// NewRegistry creates the metrics on a fresh prometheus registry, along
// with the Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ObjectsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects_active",
			Help:      "Number of session objects registered in this process",
		}),
		EngineOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ops_total",
			Help:      "Storage engine operations by operation and result",
		}, []string{"op", "result"}),
		BridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Cache manager remote calls by operation and result",
		}, []string{"op", "result"}),
		BridgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for bridged remote calls",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		SyncPulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pulls_total",
			Help:      "Pull-sync attempts against remote devices by result",
		}, []string{"result"}),
		RemoteChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "remote_changes_total",
			Help:      "Remote field changes applied or dropped by reconciliation",
		}, []string{"outcome"}),
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_online",
			Help:      "Number of reachable peer devices",
		}),
	}

	reg.MustRegister(
		r.ObjectsActive,
		r.EngineOps,
		r.BridgeCalls,
		r.BridgeDuration,
		r.SyncPulls,
		r.RemoteChanges,
		r.DevicesOnline,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveEngineOp counts one storage engine operation.
func (r *Registry) ObserveEngineOp(op string, err error) {
	r.EngineOps.WithLabelValues(op, resultOf(err)).Inc()
}

// ObserveBridgeCall records a bridged call's result and wait time.
func (r *Registry) ObserveBridgeCall(op, result string, elapsed time.Duration) {
	r.BridgeCalls.WithLabelValues(op, result).Inc()
	r.BridgeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
