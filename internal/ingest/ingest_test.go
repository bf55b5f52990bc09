package ingest

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/21satvik/Busconnects-audit/internal/common/logger"
	"github.com/21satvik/Busconnects-audit/internal/common/metrics"
	"github.com/21satvik/Busconnects-audit/internal/poller"
	"github.com/21satvik/Busconnects-audit/internal/reference"
)

const testRoutesYAML = `
version: 1
corridors:
  "5249_119701": "N"
legacy_routes:
  - "5402_123900"
agencies:
  "5249_119701": "7778021"
operators:
  "7778021": "Go-Ahead"
`

func testReference(t *testing.T) *reference.Reference {
	t.Helper()
	ref, err := reference.Parse([]byte(testRoutesYAML))
	if err != nil {
		t.Fatalf("parsing test reference: %v", err)
	}
	return ref
}

func TestBuildObservationsDropsUnclassifiableRoutes(t *testing.T) {
	ref := testReference(t)
	collectedAt := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	progress := []poller.TripProgress{
		{
			TripID:  "trip-1",
			RouteID: "5249_119701",
			StopUpdates: []poller.StopUpdate{
				{StopID: "s1", StopSequence: 1},
				{StopID: "s2", StopSequence: 2},
			},
		},
		{
			TripID:  "trip-2",
			RouteID: "route-nobody-audits",
			StopUpdates: []poller.StopUpdate{
				{StopID: "s1", StopSequence: 1},
			},
		},
	}

	observations := buildObservations(ref, progress, collectedAt)
	if len(observations) != 2 {
		t.Fatalf("built %d observations, want 2 (unclassifiable trip dropped whole)", len(observations))
	}
	for _, o := range observations {
		if o.TripID != "trip-1" {
			t.Errorf("observation for dropped trip leaked through: %+v", o)
		}
		if o.Operator != "Go-Ahead" || o.Corridor != "N" {
			t.Errorf("classification not applied: %+v", o)
		}
		if !o.CollectedAt.Equal(collectedAt) {
			t.Errorf("collected_at = %v, want %v", o.CollectedAt, collectedAt)
		}
	}
}

func TestBuildObservationsServiceDateFromScheduledTime(t *testing.T) {
	ref := testReference(t)
	collectedAt := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)

	// 00:40 UTC on March 10 belongs to the March 9 service day.
	scheduled := time.Date(2026, 3, 10, 0, 40, 0, 0, time.UTC).Unix()
	progress := []poller.TripProgress{
		{
			TripID:  "trip-1",
			RouteID: "5249_119701",
			StopUpdates: []poller.StopUpdate{
				{StopID: "s1", StopSequence: 1, ScheduledArrival: &scheduled},
				{StopID: "s2", StopSequence: 2},
			},
		},
	}

	observations := buildObservations(ref, progress, collectedAt)
	if len(observations) != 2 {
		t.Fatalf("built %d observations, want 2", len(observations))
	}

	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !observations[0].ServiceDate.Equal(want) {
		t.Errorf("dated stop service date = %v, want %v", observations[0].ServiceDate, want)
	}

	// The undated stop falls back to the wall-clock calendar date, which does
	// not get the rollover adjustment.
	fallback := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !observations[1].ServiceDate.Equal(fallback) {
		t.Errorf("undated stop service date = %v, want %v", observations[1].ServiceDate, fallback)
	}
}

func TestBuildPositionsClassifiesAndFilters(t *testing.T) {
	ref := testReference(t)
	collectedAt := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	reports := []poller.PositionReport{
		{VehicleID: "bus-1", TripID: "trip-1", RouteID: "5402_123900", Latitude: 53.35, Longitude: -6.26},
		{VehicleID: "bus-2", TripID: "trip-2", RouteID: "unknown-route", Latitude: 53.35, Longitude: -6.26},
	}

	positions := buildPositions(ref, reports, collectedAt)
	if len(positions) != 1 {
		t.Fatalf("built %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.VehicleID != "bus-1" {
		t.Errorf("kept wrong vehicle: %+v", p)
	}
	if p.Corridor != reference.CorridorLegacy {
		t.Errorf("corridor = %q, want legacy", p.Corridor)
	}
	if p.Operator != reference.OperatorUnknown {
		t.Errorf("operator = %q, want Unknown for unmapped agency", p.Operator)
	}
	if !p.CollectedAt.Equal(collectedAt) {
		t.Errorf("collected_at = %v, want %v", p.CollectedAt, collectedAt)
	}
}

func TestCycleResultSingleFeedFailureIsDegradedSuccess(t *testing.T) {
	result := &CycleResult{
		Observations:   120,
		TripUpdatesErr: nil,
		PositionsErr:   errors.New("HTTP 503"),
	}

	if err := result.Err(); err != nil {
		t.Errorf("one failed feed alongside a processed one must not fail the cycle: %v", err)
	}
}

func TestCycleResultBothFeedsFailing(t *testing.T) {
	result := &CycleResult{
		TripUpdatesErr: errors.New("HTTP 503"),
		PositionsErr:   errors.New("connection refused"),
	}

	if err := result.Err(); err == nil {
		t.Error("cycle with no processable data must fail")
	}
}

func TestCycleResultPersistenceFailureIsFatal(t *testing.T) {
	result := &CycleResult{
		Positions:      40,
		TripUpdatesErr: ErrPersist,
		persistFailed:  true,
	}

	if err := result.Err(); err == nil {
		t.Error("persistence failure must fail the cycle even if the other feed succeeded")
	}
}

func TestRecordFeedFailureSeparatesPersistFromFetch(t *testing.T) {
	m := metrics.NewCollector()
	svc := NewService(nil, nil, nil, m, logger.New(logger.ParseLogLevel("error"), io.Discard))

	svc.recordFeedFailure("trip_updates", errors.New("HTTP 503"))
	svc.recordFeedFailure("vehicle_positions", fmt.Errorf("%w: merging trip observations: boom", ErrPersist))

	if got := testutil.ToFloat64(m.FetchFailures.WithLabelValues("trip_updates")); got != 1 {
		t.Errorf("trip_updates fetch failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchFailures.WithLabelValues("vehicle_positions")); got != 0 {
		t.Errorf("persistence failure was booked as a fetch failure: %v", got)
	}
	if got := testutil.ToFloat64(m.PersistFailures); got != 1 {
		t.Errorf("persist failures = %v, want 1", got)
	}
}

func TestCycleResultEmptyFeedIsSuccess(t *testing.T) {
	result := &CycleResult{}
	if err := result.Err(); err != nil {
		t.Errorf("zero records is success, got %v", err)
	}
}
