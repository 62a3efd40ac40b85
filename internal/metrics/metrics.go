package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stop modes recorded by IncStop.
const (
	StopGraceful = "graceful"
	StopForced   = "forced"
	StopSkipped  = "skipped"
	StopFailed   = "failed"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Spawn attempts by result (ok, failed).",
		}, []string{"result"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Termination outcomes by mode (graceful, forced, skipped, failed).",
		}, []string{"mode"},
	)
	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "companion",
			Name:      "registry_size",
			Help:      "Number of children currently tracked.",
		},
	)
	shutdownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Name:      "shutdown_duration_seconds",
			Help:      "Wall time of one shutdown batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, stops, registrySize, shutdownDuration}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(ok bool) {
	if !regOK.Load() {
		return
	}
	if ok {
		spawns.WithLabelValues("ok").Inc()
	} else {
		spawns.WithLabelValues("failed").Inc()
	}
}

func IncStop(mode string) {
	if regOK.Load() {
		stops.WithLabelValues(mode).Inc()
	}
}

func SetRegistrySize(n int) {
	if regOK.Load() {
		registrySize.Set(float64(n))
	}
}

func ObserveShutdown(seconds float64) {
	if regOK.Load() {
		shutdownDuration.Observe(seconds)
	}
}
