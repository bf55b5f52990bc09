// Package store merges decoded feed records into durable Postgres state.
// Correctness under overlapping poll cycles rests on the natural-key
// conflict clauses, not on any application-level lock.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/21satvik/Busconnects-audit/internal/common/db"
	"github.com/21satvik/Busconnects-audit/internal/common/logger"
)

// upsertChunkSize keeps multi-row statements well under the Postgres
// placeholder limit.
const upsertChunkSize = 500

type Store struct {
	db     *db.DB
	logger logger.Logger
}

func New(database *db.DB, log logger.Logger) *Store {
	return &Store{
		db:     database,
		logger: log,
	}
}

// MergeTripObservations merges one poll cycle's observations in a single
// transaction. On first insertion for a key, first_seen_at and last_seen_at
// are both set to the cycle timestamp; on conflict only the observed fields
// and last_seen_at are updated, so first_seen_at never changes after
// creation. A conflicting row whose stored last_seen_at is newer than this
// cycle's timestamp is left untouched, which keeps last_seen_at monotonic
// and makes overlapping cycles converge regardless of commit order.
func (s *Store) MergeTripObservations(ctx context.Context, observations []TripObservation) (int64, error) {
	observations = dedupeObservations(observations)
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var merged int64
	for start := 0; start < len(observations); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(observations) {
			end = len(observations)
		}
		chunk := observations[start:end]

		query := buildObservationUpsert(len(chunk))
		args := make([]interface{}, 0, len(chunk)*observationColumnCount)
		for _, o := range chunk {
			args = append(args,
				o.TripID, o.StopID, int64(o.StopSequence), o.ServiceDate,
				o.RouteID, o.Operator, o.Corridor,
				nullUint32(o.DirectionID), nullInt64(o.ScheduledArrival),
				nullInt64(o.ArrivalTime), nullInt64(o.DepartureTime),
				nullInt32(o.DelaySeconds),
				o.CollectedAt, o.CollectedAt,
			)
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("merging trip observations: %w", err)
		}
		n, _ := result.RowsAffected()
		merged += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing trip observations: %w", err)
	}

	s.logger.Debug("Merged trip observations", "rows", merged)
	return merged, nil
}

// InsertVehiclePositions appends position reports in a single transaction.
// A row whose (vehicle_id, collected_at) key already exists is discarded
// silently; positions are never updated.
func (s *Store) InsertVehiclePositions(ctx context.Context, positions []VehiclePosition) (int64, error) {
	if len(positions) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted int64
	for start := 0; start < len(positions); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(positions) {
			end = len(positions)
		}
		chunk := positions[start:end]

		query := buildPositionInsert(len(chunk))
		args := make([]interface{}, 0, len(chunk)*positionColumnCount)
		for _, p := range chunk {
			args = append(args,
				p.VehicleID, p.CollectedAt, p.TripID, p.RouteID,
				p.Operator, p.Corridor, p.Latitude, p.Longitude,
			)
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("inserting vehicle positions: %w", err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing vehicle positions: %w", err)
	}

	s.logger.Debug("Inserted vehicle positions", "rows", inserted)
	return inserted, nil
}

const observationColumnCount = 14

// buildObservationUpsert returns a multi-row upsert. first_seen_at is
// deliberately absent from the DO UPDATE list, and the update is guarded on
// recency: overlapping cycles may commit in either order, so a batch from a
// slower cycle with an older collected_at must not overwrite newer observed
// values or regress last_seen_at.
func buildObservationUpsert(rows int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO trip_observations (
		trip_id, stop_id, stop_sequence, service_date,
		route_id, operator, spine, direction_id,
		scheduled_arrival, actual_arrival, actual_departure,
		reported_delay_seconds, first_seen_at, last_seen_at
	) VALUES `)
	writePlaceholders(&b, rows, observationColumnCount)
	b.WriteString(` ON CONFLICT (trip_id, stop_id, stop_sequence, service_date) DO UPDATE SET
		reported_delay_seconds = EXCLUDED.reported_delay_seconds,
		actual_arrival = EXCLUDED.actual_arrival,
		actual_departure = EXCLUDED.actual_departure,
		last_seen_at = EXCLUDED.last_seen_at
	WHERE EXCLUDED.last_seen_at >= trip_observations.last_seen_at`)
	return b.String()
}

const positionColumnCount = 8

func buildPositionInsert(rows int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO vehicle_positions (
		vehicle_id, collected_at, trip_id, route_id,
		operator, spine, latitude, longitude
	) VALUES `)
	writePlaceholders(&b, rows, positionColumnCount)
	b.WriteString(` ON CONFLICT (vehicle_id, collected_at) DO NOTHING`)
	return b.String()
}

func writePlaceholders(b *strings.Builder, rows, cols int) {
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
}

type observationKey struct {
	tripID       string
	stopID       string
	stopSequence uint32
	serviceDate  string
}

// dedupeObservations keeps the last record for each natural key so a single
// statement never touches the same row twice.
func dedupeObservations(observations []TripObservation) []TripObservation {
	if len(observations) < 2 {
		return observations
	}

	index := make(map[observationKey]int, len(observations))
	deduped := make([]TripObservation, 0, len(observations))
	for _, o := range observations {
		key := observationKey{o.TripID, o.StopID, o.StopSequence, o.ServiceDate.Format("2006-01-02")}
		if i, seen := index[key]; seen {
			deduped[i] = o
			continue
		}
		index[key] = len(deduped)
		deduped = append(deduped, o)
	}
	return deduped
}

func nullInt32(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}

func nullUint32(v *uint32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
