// Package servicedate resolves observation timestamps to logical transit
// service dates under the overnight-rollover convention: trips scheduled
// before 04:00 UTC belong to the previous day's service pattern.
package servicedate

import "time"

// RolloverHour is the UTC hour at which a new service day begins. 04:00
// itself belongs to the new day.
const RolloverHour = 4

// Resolve maps an optional scheduled epoch time to a service date, returned
// as midnight UTC of that date. A nil scheduled time falls back to the
// current wall-clock UTC date; this is a known approximation for undated
// records, not a precise derivation.
func Resolve(scheduledEpoch *int64, now time.Time) time.Time {
	if scheduledEpoch == nil {
		return truncate(now.UTC())
	}

	t := time.Unix(*scheduledEpoch, 0).UTC()
	if t.Hour() < RolloverHour {
		t = t.AddDate(0, 0, -1)
	}
	return truncate(t)
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
