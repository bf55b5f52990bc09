// Package runner drives the audit in daemon mode: ingestion cycles and
// detection passes on two independent schedules.
package runner

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/21satvik/Busconnects-audit/internal/common/config"
	"github.com/21satvik/Busconnects-audit/internal/common/logger"
	"github.com/21satvik/Busconnects-audit/internal/common/metrics"
	"github.com/21satvik/Busconnects-audit/internal/detector"
	"github.com/21satvik/Busconnects-audit/internal/ingest"
)

type Runner struct {
	config   config.RunnerConfig
	ingest   *ingest.Service
	detector *detector.Detector
	metrics  *metrics.Collector
	logger   logger.Logger
}

func New(cfg config.RunnerConfig, ing *ingest.Service, det *detector.Detector, m *metrics.Collector, log logger.Logger) *Runner {
	return &Runner{
		config:   cfg,
		ingest:   ing,
		detector: det,
		metrics:  m,
		logger:   log,
	}
}

// Run blocks until the context is cancelled. Cycle failures are logged and
// never stop the loops: a failed cycle degrades coverage for that interval
// only.
func (r *Runner) Run(ctx context.Context) error {
	var metricsSrv *http.Server
	if r.config.MetricsAddr != "" {
		metricsSrv = r.metrics.Serve(r.config.MetricsAddr, r.logger)
	}

	r.logger.Info("Audit runner started",
		"collect_interval", r.config.CollectInterval,
		"detect_interval", r.config.DetectInterval)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.runLoop(ctx, r.config.CollectInterval, r.collectOnce)
	}()

	go func() {
		defer wg.Done()
		r.runLoop(ctx, r.config.DetectInterval, r.detectOnce)
	}()

	wg.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	r.logger.Info("Audit runner stopped")
	return nil
}

// runLoop ticks at the given interval, starting with an immediate run.
func (r *Runner) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (r *Runner) collectOnce(ctx context.Context) {
	result := r.ingest.RunCycle(ctx)
	if err := result.Err(); err != nil {
		r.logger.Error("Ingestion cycle failed", "error", err)
	}
}

func (r *Runner) detectOnce(ctx context.Context) {
	if _, err := r.detector.Run(ctx, time.Now().UTC()); err != nil {
		r.logger.Error("Detection pass failed", "error", err)
	}
}
