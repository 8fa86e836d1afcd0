// Package metrics exposes engine activity as Prometheus collectors on a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pmp"

// Collectors implements the engine's Recorder and the notification queue's
// delivery observer.
type Collectors struct {
	registry *prometheus.Registry

	registrations *prometheus.CounterVec
	installs      *prometheus.CounterVec
	rollouts      prometheus.Counter
	deliveries    *prometheus.CounterVec
	conflictPairs prometheus.Gauge
	scheduledRuns *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		// Labels: outcome (succeeded, failed)
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "app_registrations_total",
			Help:      "App registration attempts by outcome",
		}, []string{"outcome"}),
		// Labels: outcome (succeeded, failed)
		installs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "resource_group_installs_total",
			Help:      "Resource group install attempts by outcome",
		}, []string{"outcome"}),
		rollouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "preset_rollouts_total",
			Help:      "Preset rollouts",
		}),
		// Labels: outcome (delivered, failed)
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "verifications_total",
			Help:      "Service feature verifications handed to the event bus",
		}, []string{"outcome"}),
		conflictPairs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conflicts",
			Name:      "pairs",
			Help:      "Conflicting preset pairs found by the last scan",
		}),
		// Labels: task, outcome (succeeded, failed)
		scheduledRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled task runs by task and outcome",
		}, []string{"task", "outcome"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}

// AppRegistration counts one registration attempt.
func (c *Collectors) AppRegistration(succeeded bool) {
	c.registrations.WithLabelValues(outcome(succeeded)).Inc()
}

// ResourceGroupInstall counts one install attempt.
func (c *Collectors) ResourceGroupInstall(succeeded bool) {
	c.installs.WithLabelValues(outcome(succeeded)).Inc()
}

// Rollout counts one preset rollout.
func (c *Collectors) Rollout() {
	c.rollouts.Inc()
}

// Delivery counts one verification handed to the event bus. The signature
// matches ipc.WithObserver.
func (c *Collectors) Delivery(_ string, err error) {
	if err != nil {
		c.deliveries.WithLabelValues("failed").Inc()
		return
	}
	c.deliveries.WithLabelValues("delivered").Inc()
}

// ConflictPairs sets the conflict gauge.
func (c *Collectors) ConflictPairs(n int) {
	c.conflictPairs.Set(float64(n))
}

// ScheduledRun counts one scheduled task run.
func (c *Collectors) ScheduledRun(task string, err error) {
	c.scheduledRuns.WithLabelValues(task, outcome(err == nil)).Inc()
}

// Registry returns the private registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
