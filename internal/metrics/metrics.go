package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	producerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchcap",
			Subsystem: "producer",
			Name:      "starts_total",
			Help:      "Number of successful producer starts.",
		}, []string{"name"},
	)
	producerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchcap",
			Subsystem: "producer",
			Name:      "restarts_total",
			Help:      "Number of recovery restarts of the producer.",
		}, []string{"name"},
	)
	processCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchcap",
			Subsystem: "process",
			Name:      "crashes_total",
			Help:      "Number of crash exits observed per supervised process.",
		}, []string{"name"},
	)
	crashCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchcap",
			Subsystem: "policy",
			Name:      "crash_count",
			Help:      "Current crash count since the last reset.",
		},
	)
	policyState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchcap",
			Subsystem: "policy",
			Name:      "state",
			Help:      "Recovery policy state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	deviceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "watchcap",
			Subsystem: "device",
			Name:      "health_state",
			Help:      "Device health state (1 = active state, 0 = inactive).",
		}, []string{"device", "state"},
	)
	healthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchcap",
			Subsystem: "device",
			Name:      "health_transitions_total",
			Help:      "Number of device health state transitions.",
		}, []string{"device", "from", "to"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchcap",
			Subsystem: "eventlog",
			Name:      "dropped_total",
			Help:      "Number of diagnostic events lost to sink write failures.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{producerStarts, producerRestarts, processCrashes, crashCount, policyState, deviceHealth, healthTransitions, eventsDropped}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncProducerStart(name string) {
	if regOK.Load() {
		producerStarts.WithLabelValues(name).Inc()
	}
}

func IncProducerRestart(name string) {
	if regOK.Load() {
		producerRestarts.WithLabelValues(name).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		processCrashes.WithLabelValues(name).Inc()
	}
}

func SetCrashCount(n int) {
	if regOK.Load() {
		crashCount.Set(float64(n))
	}
}

func SetPolicyState(state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		policyState.WithLabelValues(state).Set(v)
	}
}

func SetDeviceHealth(device, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		deviceHealth.WithLabelValues(device, state).Set(v)
	}
}

func IncHealthTransition(device, from, to string) {
	if regOK.Load() {
		healthTransitions.WithLabelValues(device, from, to).Inc()
	}
}

func IncEventDropped() {
	if regOK.Load() {
		eventsDropped.Inc()
	}
}
