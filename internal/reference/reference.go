// Package reference holds the static route classification tables used to
// decide which routes belong to the BusConnects audit and who operates them.
// The tables are loaded once at startup and are immutable afterwards.
package reference

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// CorridorLegacy marks routes outside the named-corridor programme.
	CorridorLegacy = "legacy"

	// OperatorUnknown is the soft-fail operator name for agency codes that
	// have no operator mapping. It never blocks ingestion.
	OperatorUnknown = "Unknown"
)

// Classification is the result of classifying a route identifier.
type Classification struct {
	Agency   string
	Operator string
	Corridor string
}

// routesFile is the on-disk YAML shape of the reference data.
type routesFile struct {
	Version   int               `yaml:"version"`
	Corridors map[string]string `yaml:"corridors" validate:"required,min=1"`
	Legacy    []string          `yaml:"legacy_routes"`
	Agencies  map[string]string `yaml:"agencies"`
	Operators map[string]string `yaml:"operators"`
}

// Reference is the merged, immutable lookup built from the reference file.
type Reference struct {
	version   int
	corridors map[string]string // route id -> corridor label, legacy included
	agencies  map[string]string // route id -> agency code
	operators map[string]string // agency code -> operator name
}

// Load reads and parses the route reference file.
func Load(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes file: %w", err)
	}
	ref, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing routes file %s: %w", path, err)
	}
	return ref, nil
}

// Parse builds a Reference from raw YAML. The named corridor map and the
// legacy route list are merged into a single lookup; a route appearing in
// both keeps its named corridor.
func Parse(data []byte) (*Reference, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, err
	}

	corridors := make(map[string]string, len(f.Corridors)+len(f.Legacy))
	for _, routeID := range f.Legacy {
		corridors[routeID] = CorridorLegacy
	}
	for routeID, corridor := range f.Corridors {
		corridors[routeID] = corridor
	}

	agencies := make(map[string]string, len(f.Agencies))
	for routeID, agency := range f.Agencies {
		agencies[routeID] = agency
	}
	operators := make(map[string]string, len(f.Operators))
	for agency, name := range f.Operators {
		operators[agency] = name
	}

	return &Reference{
		version:   f.Version,
		corridors: corridors,
		agencies:  agencies,
		operators: operators,
	}, nil
}

// Version reports the reference file version.
func (r *Reference) Version() int {
	return r.version
}

// Classify resolves a route identifier against the merged tables. The second
// return value is false when the route is not part of the audit at all, in
// which case every record for it must be dropped by the caller.
func (r *Reference) Classify(routeID string) (Classification, bool) {
	corridor, ok := r.corridors[routeID]
	if !ok {
		return Classification{}, false
	}

	agency := r.agencies[routeID]
	operator, ok := r.operators[agency]
	if !ok {
		operator = OperatorUnknown
	}

	return Classification{
		Agency:   agency,
		Operator: operator,
		Corridor: corridor,
	}, true
}
