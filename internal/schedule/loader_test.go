package schedule

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeTestGTFS(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gtfs.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("adding %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return path
}

func openTestGTFS(t *testing.T, path string) map[string]*zip.File {
	t.Helper()

	reader, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening zip: %v", err)
	}
	t.Cleanup(func() { reader.Close() })

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
	}
	return fileMap
}

func TestParseStopCountsTakesMaxSequence(t *testing.T) {
	path := writeTestGTFS(t, map[string]string{
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"trip-1,10:00:00,10:00:00,s1,1\n" +
			"trip-1,10:10:00,10:10:00,s2,2\n" +
			"trip-1,10:20:00,10:20:00,s3,12\n" +
			"trip-2,11:00:00,11:00:00,s1,1\n",
	})
	fileMap := openTestGTFS(t, path)

	counts, err := parseStopCounts(fileMap["stop_times.txt"])
	if err != nil {
		t.Fatalf("parseStopCounts failed: %v", err)
	}
	if counts["trip-1"] != 12 {
		t.Errorf("trip-1 total = %d, want 12", counts["trip-1"])
	}
	if counts["trip-2"] != 1 {
		t.Errorf("trip-2 total = %d, want 1", counts["trip-2"])
	}
}

func TestParseTripRoutes(t *testing.T) {
	path := writeTestGTFS(t, map[string]string{
		"trips.txt": "route_id,service_id,trip_id,direction_id\n" +
			"5249_119701,svc,trip-1,0\n" +
			"5402_123847,svc,trip-2,1\n",
	})
	fileMap := openTestGTFS(t, path)

	routes, err := parseTripRoutes(fileMap["trips.txt"])
	if err != nil {
		t.Fatalf("parseTripRoutes failed: %v", err)
	}
	if routes["trip-1"] != "5249_119701" {
		t.Errorf("trip-1 route = %q", routes["trip-1"])
	}
	if routes["trip-2"] != "5402_123847" {
		t.Errorf("trip-2 route = %q", routes["trip-2"])
	}
}

func TestParseStopCountsMissingColumn(t *testing.T) {
	path := writeTestGTFS(t, map[string]string{
		"stop_times.txt": "trip_id,stop_id\ntrip-1,s1\n",
	})
	fileMap := openTestGTFS(t, path)

	if _, err := parseStopCounts(fileMap["stop_times.txt"]); err == nil {
		t.Error("expected error for missing stop_sequence column")
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := parseTripRoutes(nil); err == nil {
		t.Error("expected error for file missing from archive")
	}
}
