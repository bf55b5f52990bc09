package store

import "time"

// TripObservation is one stop visit for one trip on one service date. The
// natural key is (TripID, StopID, StopSequence, ServiceDate).
type TripObservation struct {
	TripID       string
	StopID       string
	StopSequence uint32
	ServiceDate  time.Time

	RouteID  string
	Operator string
	Corridor string

	DirectionID      *uint32
	ScheduledArrival *int64
	ArrivalTime      *int64
	DepartureTime    *int64
	DelaySeconds     *int32

	// CollectedAt is the poll-cycle timestamp. It becomes first_seen_at on
	// row creation and last_seen_at on every merge.
	CollectedAt time.Time
}

// VehiclePosition is one appended position report. The natural key is
// (VehicleID, CollectedAt); an exact duplicate is silently discarded.
type VehiclePosition struct {
	VehicleID   string
	CollectedAt time.Time

	TripID   string
	RouteID  string
	Operator string
	Corridor string

	Latitude  float64
	Longitude float64
}
