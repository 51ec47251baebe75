// Package monitor exposes supervisor metrics over Prometheus.
package monitor

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RestartsTotal counts watchdog restarts, partitioned by sidecar.
	RestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecard_restarts_total",
		Help: "Total number of sidecar restarts performed by the watchdog",
	}, []string{"sidecar"})

	// Running reflects the supervisor's running predicate.
	Running = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sidecard_running",
		Help: "Whether the sidecar topology is fully running (1) or not (0)",
	})

	// EventsTotal counts diagnostic events, partitioned by level.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecard_events_total",
		Help: "Total number of diagnostic events recorded",
	}, []string{"level"})

	// StartsTotal counts start attempts, partitioned by outcome.
	StartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecard_starts_total",
		Help: "Total number of start attempts by outcome",
	}, []string{"outcome"})
)

// Serve registers the metrics and exposes them on addr. It returns
// immediately; the listener runs until the process exits.
func Serve(addr string) {
	prometheus.MustRegister(RestartsTotal, Running, EventsTotal, StartsTotal)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
