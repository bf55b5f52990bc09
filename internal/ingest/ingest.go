// Package ingest runs one ingestion cycle: poll both GTFS-realtime feeds,
// classify and date each record, and merge the results into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/21satvik/Busconnects-audit/internal/common/logger"
	"github.com/21satvik/Busconnects-audit/internal/common/metrics"
	"github.com/21satvik/Busconnects-audit/internal/poller"
	"github.com/21satvik/Busconnects-audit/internal/reference"
	"github.com/21satvik/Busconnects-audit/internal/servicedate"
	"github.com/21satvik/Busconnects-audit/internal/store"
)

// ErrPersist marks a durable write failure. Unlike a single-feed fetch
// failure, it always makes the whole cycle report failure.
var ErrPersist = errors.New("persistence failure")

type Service struct {
	poller    *poller.Poller
	reference *reference.Reference
	store     *store.Store
	metrics   *metrics.Collector
	logger    logger.Logger
}

func NewService(p *poller.Poller, ref *reference.Reference, st *store.Store, m *metrics.Collector, log logger.Logger) *Service {
	return &Service{
		poller:    p,
		reference: ref,
		store:     st,
		metrics:   m,
		logger:    log,
	}
}

// CycleResult reports the outcome of one ingestion cycle. Each feed's
// outcome is independent; persistence failures abort the whole cycle.
type CycleResult struct {
	Observations int64
	Positions    int64

	TripUpdatesErr error
	PositionsErr   error

	persistFailed bool
}

// Err reports whether the cycle must signal failure: any persistence
// failure, or both feeds failing so that no data could be processed. A
// single failed feed alongside a processed one is a degraded success.
func (r *CycleResult) Err() error {
	if r.persistFailed {
		return errors.Join(r.TripUpdatesErr, r.PositionsErr)
	}
	if r.TripUpdatesErr != nil && r.PositionsErr != nil {
		return fmt.Errorf("no feed data processed: %w", errors.Join(r.TripUpdatesErr, r.PositionsErr))
	}
	return nil
}

// RunCycle polls both feeds concurrently and merges each batch atomically.
// A failure on one feed never cancels handling of the other.
func (s *Service) RunCycle(ctx context.Context) *CycleResult {
	collectedAt := time.Now().UTC()
	result := &CycleResult{}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		result.Observations, result.TripUpdatesErr = s.ingestTripUpdates(ctx, collectedAt)
	}()

	go func() {
		defer wg.Done()
		result.Positions, result.PositionsErr = s.ingestVehiclePositions(ctx, collectedAt)
	}()

	wg.Wait()

	if errors.Is(result.TripUpdatesErr, ErrPersist) || errors.Is(result.PositionsErr, ErrPersist) {
		result.persistFailed = true
	}

	if result.TripUpdatesErr != nil {
		s.recordFeedFailure("trip_updates", result.TripUpdatesErr)
	}
	if result.PositionsErr != nil {
		s.recordFeedFailure("vehicle_positions", result.PositionsErr)
	}
	if err := result.Err(); err != nil {
		s.metrics.CycleFailures.Inc()
		return result
	}

	s.metrics.ObservationsMerged.Add(float64(result.Observations))
	s.metrics.PositionsStored.Add(float64(result.Positions))
	s.logger.Info("Ingestion cycle complete",
		"observations", result.Observations,
		"positions", result.Positions,
		"collected_at", collectedAt)

	return result
}

// recordFeedFailure books a failed feed path against the right counter: a
// fetch or decode failure is a feed problem, a persistence failure is not —
// the fetch succeeded and the write path broke.
func (s *Service) recordFeedFailure(feed string, err error) {
	if errors.Is(err, ErrPersist) {
		s.metrics.PersistFailures.Inc()
	} else {
		s.metrics.FetchFailures.WithLabelValues(feed).Inc()
	}
	s.logger.Error("Feed processing failed", "feed", feed, "error", err)
}

func (s *Service) ingestTripUpdates(ctx context.Context, collectedAt time.Time) (int64, error) {
	progress, err := s.poller.FetchTripUpdates(ctx)
	if err != nil {
		return 0, err
	}

	observations := buildObservations(s.reference, progress, collectedAt)
	if len(observations) == 0 {
		s.logger.Info("No audited route data in trip updates feed", "collected_at", collectedAt)
		return 0, nil
	}

	merged, err := s.store.MergeTripObservations(ctx, observations)
	if err != nil {
		return 0, fmt.Errorf("%w: merging trip observations: %v", ErrPersist, err)
	}
	return merged, nil
}

func (s *Service) ingestVehiclePositions(ctx context.Context, collectedAt time.Time) (int64, error) {
	reports, err := s.poller.FetchVehiclePositions(ctx)
	if err != nil {
		return 0, err
	}

	positions := buildPositions(s.reference, reports, collectedAt)
	if len(positions) == 0 {
		s.logger.Info("No audited route data in vehicle positions feed", "collected_at", collectedAt)
		return 0, nil
	}

	inserted, err := s.store.InsertVehiclePositions(ctx, positions)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting vehicle positions: %v", ErrPersist, err)
	}
	return inserted, nil
}

// buildObservations classifies and dates trip progress records. Trips on
// routes outside the classification reference are dropped entirely.
func buildObservations(ref *reference.Reference, progress []poller.TripProgress, collectedAt time.Time) []store.TripObservation {
	var observations []store.TripObservation

	for _, trip := range progress {
		class, ok := ref.Classify(trip.RouteID)
		if !ok {
			continue
		}

		for _, su := range trip.StopUpdates {
			observations = append(observations, store.TripObservation{
				TripID:           trip.TripID,
				StopID:           su.StopID,
				StopSequence:     su.StopSequence,
				ServiceDate:      servicedate.Resolve(scheduledFor(su), collectedAt),
				RouteID:          trip.RouteID,
				Operator:         class.Operator,
				Corridor:         class.Corridor,
				DirectionID:      trip.DirectionID,
				ScheduledArrival: su.ScheduledArrival,
				ArrivalTime:      su.ArrivalTime,
				DepartureTime:    su.DepartureTime,
				DelaySeconds:     su.DelaySeconds,
				CollectedAt:      collectedAt,
			})
		}
	}

	return observations
}

// scheduledFor picks the timestamp to date a stop visit by: the scheduled
// arrival when known, else the predicted arrival, else nothing (which makes
// the resolver fall back to the wall-clock date).
func scheduledFor(su poller.StopUpdate) *int64 {
	if su.ScheduledArrival != nil {
		return su.ScheduledArrival
	}
	return su.ArrivalTime
}

func buildPositions(ref *reference.Reference, reports []poller.PositionReport, collectedAt time.Time) []store.VehiclePosition {
	var positions []store.VehiclePosition

	for _, report := range reports {
		class, ok := ref.Classify(report.RouteID)
		if !ok {
			continue
		}

		positions = append(positions, store.VehiclePosition{
			VehicleID:   report.VehicleID,
			CollectedAt: collectedAt,
			TripID:      report.TripID,
			RouteID:     report.RouteID,
			Operator:    class.Operator,
			Corridor:    class.Corridor,
			Latitude:    report.Latitude,
			Longitude:   report.Longitude,
		})
	}

	return positions
}
