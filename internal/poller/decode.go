package poller

import (
	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// TripProgress is one decoded trip-update entity.
type TripProgress struct {
	TripID      string
	RouteID     string
	DirectionID *uint32
	StopUpdates []StopUpdate
}

// StopUpdate is one per-stop update within a trip-update entity. Pointer
// fields carry the feed's own presence indicators: a nil means the feed did
// not report the field, never that the value was zero.
type StopUpdate struct {
	StopID           string
	StopSequence     uint32
	ScheduledArrival *int64
	ArrivalTime      *int64
	DepartureTime    *int64
	DelaySeconds     *int32
}

// PositionReport is one decoded vehicle-position entity.
type PositionReport struct {
	VehicleID string
	TripID    string
	RouteID   string
	Latitude  float64
	Longitude float64
}

func decodeTripUpdates(msg *gtfsrt.FeedMessage) []TripProgress {
	var progress []TripProgress

	for _, entity := range msg.Entity {
		tu := entity.TripUpdate
		if tu == nil || tu.Trip == nil || tu.Trip.TripId == nil {
			continue
		}

		tp := TripProgress{
			TripID:      tu.Trip.GetTripId(),
			RouteID:     tu.Trip.GetRouteId(),
			DirectionID: tu.Trip.DirectionId,
		}

		for _, stu := range tu.StopTimeUpdate {
			tp.StopUpdates = append(tp.StopUpdates, decodeStopUpdate(stu))
		}

		progress = append(progress, tp)
	}

	return progress
}

func decodeStopUpdate(stu *gtfsrt.TripUpdate_StopTimeUpdate) StopUpdate {
	su := StopUpdate{
		StopID:       stu.GetStopId(),
		StopSequence: stu.GetStopSequence(),
	}

	var arrivalDelay *int32
	if arr := stu.Arrival; arr != nil {
		su.ArrivalTime = arr.Time
		arrivalDelay = arr.Delay
	}

	var departureDelay *int32
	if dep := stu.Departure; dep != nil {
		su.DepartureTime = dep.Time
		departureDelay = dep.Delay
	}

	// Prefer the arrival delay, fall back to the departure delay. Presence
	// comes from the protobuf field indicator, so an explicit delay of zero
	// seconds is kept as zero rather than collapsing into "not reported".
	switch {
	case arrivalDelay != nil:
		su.DelaySeconds = arrivalDelay
	case departureDelay != nil:
		su.DelaySeconds = departureDelay
	}

	// The feed carries predicted times only; the schedule is recovered from
	// prediction minus delay when both are reported.
	if su.ArrivalTime != nil && arrivalDelay != nil {
		scheduled := *su.ArrivalTime - int64(*arrivalDelay)
		su.ScheduledArrival = &scheduled
	}

	return su
}

func decodeVehiclePositions(msg *gtfsrt.FeedMessage) []PositionReport {
	var reports []PositionReport

	for _, entity := range msg.Entity {
		vp := entity.Vehicle
		if vp == nil || vp.Position == nil {
			continue
		}
		if vp.Vehicle == nil || vp.Vehicle.Id == nil {
			continue
		}

		report := PositionReport{
			VehicleID: vp.Vehicle.GetId(),
			Latitude:  float64(vp.Position.GetLatitude()),
			Longitude: float64(vp.Position.GetLongitude()),
		}
		if vp.Trip != nil {
			report.TripID = vp.Trip.GetTripId()
			report.RouteID = vp.Trip.GetRouteId()
		}

		reports = append(reports, report)
	}

	return reports
}
