// Package detector flags ghost trips: vehicles that stopped reporting well
// before plausibly completing their route.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/21satvik/Busconnects-audit/internal/common/config"
	"github.com/21satvik/Busconnects-audit/internal/common/db"
	"github.com/21satvik/Busconnects-audit/internal/common/logger"
	"github.com/21satvik/Busconnects-audit/internal/common/metrics"
	"github.com/21satvik/Busconnects-audit/internal/servicedate"
)

type Detector struct {
	db      *db.DB
	config  config.DetectorConfig
	metrics *metrics.Collector
	logger  logger.Logger
}

func New(database *db.DB, cfg config.DetectorConfig, m *metrics.Collector, log logger.Logger) *Detector {
	return &Detector{
		db:      database,
		config:  cfg,
		metrics: m,
		logger:  log,
	}
}

// tripAggregate is the per-trip summary the detector evaluates.
type tripAggregate struct {
	TripID           string
	RouteID          string
	Operator         string
	Corridor         string
	FirstSeen        time.Time
	LastSeen         time.Time
	LastStopSequence int64
	ExpectedStops    int64
}

// Run executes one detection pass over the current service date and returns
// the number of newly flagged trips. Trips already flagged in an earlier run
// are left untouched, so repeated runs over the same data are no-ops.
func (d *Detector) Run(ctx context.Context, now time.Time) (int64, error) {
	serviceDate := servicedate.Resolve(nil, now)

	aggregates, err := d.aggregateTrips(ctx, serviceDate)
	if err != nil {
		return 0, err
	}

	var candidates []tripAggregate
	for _, agg := range aggregates {
		if isGhost(agg, now, d.config) {
			candidates = append(candidates, agg)
		}
	}

	flagged, err := d.insertCandidates(ctx, candidates)
	if err != nil {
		return 0, err
	}

	d.metrics.GhostsFlagged.Add(float64(flagged))
	d.logger.Info("Ghost detection pass complete",
		"service_date", serviceDate.Format("2006-01-02"),
		"trips_evaluated", len(aggregates),
		"candidates", len(candidates),
		"newly_flagged", flagged)

	return flagged, nil
}

// isGhost applies the two-part heuristic: the trip has gone quiet for longer
// than the staleness window, and it had reached strictly less than the
// completion threshold of its expected stops when it did.
func isGhost(agg tripAggregate, now time.Time, cfg config.DetectorConfig) bool {
	if agg.ExpectedStops <= 0 {
		return false
	}

	stale := agg.LastSeen.Before(now.Add(-cfg.StalenessWindow))
	ratio := float64(agg.LastStopSequence) / float64(agg.ExpectedStops)

	return stale && ratio < cfg.CompletionThreshold
}

func (d *Detector) aggregateTrips(ctx context.Context, serviceDate time.Time) ([]tripAggregate, error) {
	rows, err := d.db.DB().QueryContext(ctx, `
		SELECT
			t.trip_id,
			t.route_id,
			MAX(t.operator),
			MAX(t.spine),
			MIN(t.first_seen_at),
			MAX(t.last_seen_at),
			MAX(t.stop_sequence),
			r.total_stops
		FROM trip_observations t
		JOIN (
			SELECT trip_id, MAX(total_stops) AS total_stops
			FROM route_stop_counts
			GROUP BY trip_id
		) r ON t.trip_id = r.trip_id
		WHERE t.service_date = $1
		GROUP BY t.trip_id, t.route_id, r.total_stops
	`, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("aggregating trip observations: %w", err)
	}
	defer rows.Close()

	var aggregates []tripAggregate
	for rows.Next() {
		var agg tripAggregate
		if err := rows.Scan(
			&agg.TripID, &agg.RouteID, &agg.Operator, &agg.Corridor,
			&agg.FirstSeen, &agg.LastSeen,
			&agg.LastStopSequence, &agg.ExpectedStops,
		); err != nil {
			return nil, fmt.Errorf("scanning trip aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trip aggregates: %w", err)
	}

	return aggregates, nil
}

// insertCandidates writes one row per candidate. The conflict clause makes
// the write idempotent per trip: an existing candidate is never updated and
// does not count as newly flagged.
func (d *Detector) insertCandidates(ctx context.Context, candidates []tripAggregate) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var flagged int64
	for _, c := range candidates {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO ghost_bus_candidates (
				trip_id, route_id, operator, spine,
				first_seen, last_seen,
				last_stop_sequence, expected_total_stops, confirmed_ghost
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
			ON CONFLICT (trip_id) DO NOTHING
		`, c.TripID, c.RouteID, c.Operator, c.Corridor,
			c.FirstSeen, c.LastSeen, c.LastStopSequence, c.ExpectedStops)
		if err != nil {
			return 0, fmt.Errorf("inserting ghost candidate for trip %s: %w", c.TripID, err)
		}
		n, _ := result.RowsAffected()
		flagged += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing ghost candidates: %w", err)
	}

	return flagged, nil
}
