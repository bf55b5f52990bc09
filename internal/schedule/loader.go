// Package schedule populates the expected-stop-count reference the ghost
// detector joins against, from a static GTFS archive.
package schedule

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/21satvik/Busconnects-audit/internal/common/db"
	"github.com/21satvik/Busconnects-audit/internal/common/logger"
)

type Loader struct {
	db     *db.DB
	logger logger.Logger
}

func New(database *db.DB, log logger.Logger) *Loader {
	return &Loader{
		db:     database,
		logger: log,
	}
}

// LoadStopCounts reads trips.txt and stop_times.txt from a GTFS zip and
// upserts one (trip_id, route_id, total_stops) row per trip, where
// total_stops is the highest stop_sequence on the trip.
func (l *Loader) LoadStopCounts(ctx context.Context, zipPath string) (int64, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("opening GTFS zip: %w", err)
	}
	defer reader.Close()

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
	}

	tripRoutes, err := parseTripRoutes(fileMap["trips.txt"])
	if err != nil {
		return 0, fmt.Errorf("parsing trips.txt: %w", err)
	}

	stopCounts, err := parseStopCounts(fileMap["stop_times.txt"])
	if err != nil {
		return 0, fmt.Errorf("parsing stop_times.txt: %w", err)
	}

	l.logger.Info("Parsed GTFS schedule", "trips", len(tripRoutes), "trips_with_stops", len(stopCounts))

	return l.upsertStopCounts(ctx, tripRoutes, stopCounts)
}

func openCSV(file *zip.File) (*csv.Reader, io.Closer, error) {
	if file == nil {
		return nil, nil, fmt.Errorf("file missing from archive")
	}
	rc, err := file.Open()
	if err != nil {
		return nil, nil, err
	}
	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	return reader, rc, nil
}

// headerIndex maps column names to positions from the CSV header row.
func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	return index
}

func parseTripRoutes(file *zip.File) (map[string]string, error) {
	reader, closer, err := openCSV(file)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := headerIndex(header)
	tripCol, ok := index["trip_id"]
	if !ok {
		return nil, fmt.Errorf("trips.txt missing trip_id column")
	}
	routeCol, ok := index["route_id"]
	if !ok {
		return nil, fmt.Errorf("trips.txt missing route_id column")
	}

	tripRoutes := make(map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		if tripCol >= len(record) || routeCol >= len(record) {
			continue
		}
		tripRoutes[record[tripCol]] = record[routeCol]
	}

	return tripRoutes, nil
}

func parseStopCounts(file *zip.File) (map[string]int, error) {
	reader, closer, err := openCSV(file)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := headerIndex(header)
	tripCol, ok := index["trip_id"]
	if !ok {
		return nil, fmt.Errorf("stop_times.txt missing trip_id column")
	}
	seqCol, ok := index["stop_sequence"]
	if !ok {
		return nil, fmt.Errorf("stop_times.txt missing stop_sequence column")
	}

	counts := make(map[string]int)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		if tripCol >= len(record) || seqCol >= len(record) {
			continue
		}
		seq, err := strconv.Atoi(record[seqCol])
		if err != nil {
			continue
		}
		if seq > counts[record[tripCol]] {
			counts[record[tripCol]] = seq
		}
	}

	return counts, nil
}

func (l *Loader) upsertStopCounts(ctx context.Context, tripRoutes map[string]string, stopCounts map[string]int) (int64, error) {
	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var loaded int64
	for tripID, total := range stopCounts {
		routeID, ok := tripRoutes[tripID]
		if !ok {
			continue
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO route_stop_counts (trip_id, route_id, total_stops)
			VALUES ($1, $2, $3)
			ON CONFLICT (trip_id) DO UPDATE SET
				route_id = EXCLUDED.route_id,
				total_stops = EXCLUDED.total_stops
		`, tripID, routeID, total)
		if err != nil {
			return 0, fmt.Errorf("upserting stop count for trip %s: %w", tripID, err)
		}
		loaded++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing stop counts: %w", err)
	}

	l.logger.Info("Loaded expected stop counts", "trips", loaded)
	return loaded, nil
}
