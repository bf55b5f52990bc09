package reference

import "testing"

const testYAML = `
version: 3
corridors:
  "5249_119701": "N"
  "5402_123847": "S"
legacy_routes:
  - "5402_123900"
  - "5402_123901"
agencies:
  "5249_119701": "7778021"
  "5402_123847": "7778019"
  "5402_123900": "7778019"
  "5402_123901": "9999999"
operators:
  "7778019": "Dublin Bus"
  "7778021": "Go-Ahead"
`

func mustParse(t *testing.T) *Reference {
	t.Helper()
	ref, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return ref
}

func TestClassifyNamedCorridor(t *testing.T) {
	ref := mustParse(t)

	class, ok := ref.Classify("5249_119701")
	if !ok {
		t.Fatal("expected route to classify")
	}
	if class.Corridor != "N" {
		t.Errorf("corridor = %q, want N", class.Corridor)
	}
	if class.Operator != "Go-Ahead" {
		t.Errorf("operator = %q, want Go-Ahead", class.Operator)
	}
	if class.Agency != "7778021" {
		t.Errorf("agency = %q, want 7778021", class.Agency)
	}
}

func TestClassifyLegacyRoute(t *testing.T) {
	ref := mustParse(t)

	class, ok := ref.Classify("5402_123900")
	if !ok {
		t.Fatal("expected legacy route to classify")
	}
	if class.Corridor != CorridorLegacy {
		t.Errorf("corridor = %q, want %q", class.Corridor, CorridorLegacy)
	}
	if class.Operator != "Dublin Bus" {
		t.Errorf("operator = %q, want Dublin Bus", class.Operator)
	}
}

func TestClassifyUnknownRouteIsDropped(t *testing.T) {
	ref := mustParse(t)

	if _, ok := ref.Classify("5402_999999"); ok {
		t.Error("route absent from both tables must not classify")
	}
}

func TestClassifyUnmappedAgencySoftFails(t *testing.T) {
	ref := mustParse(t)

	class, ok := ref.Classify("5402_123901")
	if !ok {
		t.Fatal("route with unmapped agency must still classify")
	}
	if class.Operator != OperatorUnknown {
		t.Errorf("operator = %q, want %q", class.Operator, OperatorUnknown)
	}
}

func TestParseVersion(t *testing.T) {
	ref := mustParse(t)
	if ref.Version() != 3 {
		t.Errorf("version = %d, want 3", ref.Version())
	}
}

func TestParseRejectsEmptyCorridors(t *testing.T) {
	if _, err := Parse([]byte("version: 1\nlegacy_routes: [\"a\"]\n")); err == nil {
		t.Error("expected validation error for missing corridors table")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("corridors: [not a map")); err == nil {
		t.Error("expected parse error")
	}
}
