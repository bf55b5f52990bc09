package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/21satvik/Busconnects-audit/internal/common/logger"
)

// Collector holds the audit service metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	ObservationsMerged prometheus.Counter
	PositionsStored    prometheus.Counter
	GhostsFlagged      prometheus.Counter

	FetchFailures   *prometheus.CounterVec // feed label: trip_updates|vehicle_positions
	PersistFailures prometheus.Counter
	CycleFailures   prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ObservationsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_trip_observations_merged_total",
			Help: "Total trip observation rows merged into the store.",
		}),
		PositionsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_vehicle_positions_stored_total",
			Help: "Total vehicle position rows inserted.",
		}),
		GhostsFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_ghost_candidates_flagged_total",
			Help: "Total ghost trip candidates flagged by the detector.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_feed_fetch_failures_total",
			Help: "Feed fetch or decode failures.",
		}, []string{"feed"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_persist_failures_total",
			Help: "Durable batch writes that failed.",
		}),
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_cycle_failures_total",
			Help: "Ingestion cycles that ended in failure.",
		}),
	}

	reg.MustRegister(
		c.ObservationsMerged, c.PositionsStored, c.GhostsFlagged,
		c.FetchFailures, c.PersistFailures, c.CycleFailures,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error", "error", err)
		}
	}()
	log.Info("Metrics server listening", "addr", addr)
	return srv
}
