// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status labels for load and invocation metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ModuleLoads counts Load calls by outcome code.
// Use RegisterMetrics to register this with a Prometheus registry.
var ModuleLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scripthost_module_loads_total",
		Help: "Total number of module loads",
	},
	[]string{"status"},
)

// ModuleUnloads counts Unload calls by outcome.
var ModuleUnloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scripthost_module_unloads_total",
		Help: "Total number of module unloads",
	},
	[]string{"outcome"},
)

// LifecycleInvocations counts lifecycle hook invocations.
var LifecycleInvocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scripthost_lifecycle_invocations_total",
		Help: "Total number of lifecycle invocations",
	},
	[]string{"op", "status"},
)

// HandlesLive tracks the number of pinned handles.
var HandlesLive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "scripthost_handles_live",
		Help: "Number of handles currently pinned",
	},
)

// UnloadGCPasses observes how many collection passes an unload needed.
var UnloadGCPasses = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "scripthost_unload_gc_passes",
		Help:    "Collection passes performed per unload",
		Buckets: prometheus.LinearBuckets(1, 1, 8),
	},
)

// RegisterMetrics registers bridge metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ModuleLoads)
	reg.MustRegister(ModuleUnloads)
	reg.MustRegister(LifecycleInvocations)
	reg.MustRegister(HandlesLive)
	reg.MustRegister(UnloadGCPasses)
}

// RecordModuleLoad increments the load counter. status is StatusSuccess or
// an error code.
func RecordModuleLoad(status string) {
	ModuleLoads.WithLabelValues(status).Inc()
}

// RecordModuleUnload increments the unload counter.
func RecordModuleUnload(outcome UnloadOutcome) {
	ModuleUnloads.WithLabelValues(outcome.String()).Inc()
}

// RecordInvocation increments the lifecycle invocation counter.
func RecordInvocation(op Op, status string) {
	LifecycleInvocations.WithLabelValues(op.String(), status).Inc()
}

func (s *Session) recordHandles() {
	HandlesLive.Set(float64(s.handles.Len()))
}
