package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/21satvik/Busconnects-audit/internal/common/config"
	"github.com/21satvik/Busconnects-audit/internal/common/db"
	"github.com/21satvik/Busconnects-audit/internal/common/logger"
	"github.com/21satvik/Busconnects-audit/internal/common/metrics"
	"github.com/21satvik/Busconnects-audit/internal/detector"
	"github.com/21satvik/Busconnects-audit/internal/ingest"
	"github.com/21satvik/Busconnects-audit/internal/poller"
	"github.com/21satvik/Busconnects-audit/internal/reference"
	"github.com/21satvik/Busconnects-audit/internal/runner"
	"github.com/21satvik/Busconnects-audit/internal/schedule"
	"github.com/21satvik/Busconnects-audit/internal/store"
)

// app holds the shared service wiring built once per invocation.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	db      *db.DB
	metrics *metrics.Collector
}

func newApp() (*app, error) {
	// A missing .env is fine; configuration may come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(
		logger.ParseLogLevel(cfg.Logging.Level),
		logger.ConsoleWriter(),
		logger.FileWriter(cfg.Logging.FilePath),
	)

	database, err := db.New(cfg.Database.ConnectionString(), log)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		db:      database,
		metrics: metrics.NewCollector(),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

func (a *app) ingestService() (*ingest.Service, error) {
	if a.cfg.Feeds.APIKey == "" {
		return nil, fmt.Errorf("NTA_API_KEY is required to poll the feeds")
	}

	ref, err := reference.Load(a.cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	a.log.Info("Route reference loaded", "file", a.cfg.RoutesFile, "version", ref.Version())

	p := poller.New(a.cfg.Feeds, a.log)
	st := store.New(a.db, a.log)
	return ingest.NewService(p, ref, st, a.metrics, a.log), nil
}

func main() {
	root := &cobra.Command{
		Use:           "busconnects-audit",
		Short:         "BusConnects spine telemetry audit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(collectCmd(), detectCmd(), loadScheduleCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func collectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one ingestion cycle over both feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.ingestService()
			if err != nil {
				return err
			}

			result := svc.RunCycle(cmd.Context())
			return result.Err()
		},
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run one ghost trip detection pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			det := detector.New(a.db, a.cfg.Detector, a.metrics, a.log)
			_, err = det.Run(cmd.Context(), time.Now().UTC())
			return err
		},
	}
}

func loadScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-schedule <gtfs.zip>",
		Short: "Load expected stop counts per trip from a static GTFS archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			loader := schedule.New(a.db, a.log)
			_, err = loader.LoadStopCounts(cmd.Context(), args[0])
			return err
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run ingestion and detection continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.ingestService()
			if err != nil {
				return err
			}
			det := detector.New(a.db, a.cfg.Detector, a.metrics, a.log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				a.log.Info("Shutdown signal received")
				cancel()
			}()

			r := runner.New(a.cfg.Runner, svc, det, a.metrics, a.log)
			return r.Run(ctx)
		},
	}
}
