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

	backendStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Number of successful backend starts (spawned or adopted).",
		},
	)
	backendRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "backend",
			Name:      "restarts_total",
			Help:      "Number of automatic backend restarts.",
		},
	)
	backendStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Number of backend stops (graceful or kill).",
		},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "backend",
			Name:      "health_checks_total",
			Help:      "Periodic health probe results.",
		}, []string{"result"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "driftwatch",
			Subsystem: "backend",
			Name:      "current_state",
			Help:      "Current backend health state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Change events delivered to subscribers.",
		}, []string{"type"},
	)
	eventsFiltered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "events",
			Name:      "filtered_total",
			Help:      "Raw change signals rejected by the filter pipeline.",
		},
	)
	dashboardPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "dashboard",
			Name:      "polls_total",
			Help:      "Dashboard snapshot fetches by outcome.",
		}, []string{"result"},
	)
	startupSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftwatch",
			Subsystem: "backend",
			Name:      "startup_seconds",
			Help:      "Time from spawn until the first successful health probe.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backendStarts, backendRestarts, backendStops, healthChecks,
		currentState, eventsEmitted, eventsFiltered, dashboardPolls,
		startupSeconds,
	}
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

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart()   { backendStarts.Inc() }
func IncRestart() { backendRestarts.Inc() }
func IncStop()    { backendStops.Inc() }

func ObserveHealthCheck(ok bool) {
	if ok {
		healthChecks.WithLabelValues("ok").Inc()
	} else {
		healthChecks.WithLabelValues("fail").Inc()
	}
}

// SetState marks exactly one health state as active.
func SetState(state string) {
	for _, s := range []string{"stopped", "starting", "healthy", "unhealthy"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		currentState.WithLabelValues(s).Set(v)
	}
}

func IncEventEmitted(changeType string) { eventsEmitted.WithLabelValues(changeType).Inc() }
func IncEventFiltered()                 { eventsFiltered.Inc() }

func ObserveDashboardPoll(ok bool) {
	if ok {
		dashboardPolls.WithLabelValues("ok").Inc()
	} else {
		dashboardPolls.WithLabelValues("fail").Inc()
	}
}

func ObserveStartupSeconds(s float64) { startupSeconds.Observe(s) }
