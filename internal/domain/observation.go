package domain

import "time"

// DelayObservation is one reported delay sample for a stop of a trip.
type DelayObservation struct {
	TripID                 string    `json:"trip_id"`
	RouteShortName         string    `json:"route_short_name"`
	TripHeadsign           string    `json:"trip_headsign"`
	StopName               string    `json:"stop_name"`
	StopSequence           int       `json:"stop_sequence"`
	ScheduledDepartureTime string    `json:"scheduled_departure_time"` // HH:MM:SS
	Timestamp              time.Time `json:"timestamp"`
	ArrivalDelay           *int      `json:"arrival_delay,omitempty"`   // seconds, nil on the first stop
	DepartureDelay         *int      `json:"departure_delay,omitempty"` // seconds
}

// DelayValue returns the delay this observation contributes to a stop series:
// the arrival delay when present, otherwise the departure delay.
func (o DelayObservation) DelayValue() (int, bool) {
	if o.ArrivalDelay != nil {
		return *o.ArrivalDelay, true
	}
	if o.DepartureDelay != nil {
		return *o.DepartureDelay, true
	}
	return 0, false
}

// StopSeries is the delay history observed at one stop of one trip.
type StopSeries struct {
	StopName            string `json:"stop_name"`
	StopSequence        int    `json:"stop_sequence"`
	Delays              []int  `json:"delays"` // chronological
	CurrentDelaySeconds int    `json:"current_delay_seconds"`
}

// TripSelection is the user's current choice of route, direction, stop and
// scheduled departure. TripID is empty until a trip is resolved.
type TripSelection struct {
	RouteShortName         string `json:"route_short_name"`
	TripHeadsign           string `json:"trip_headsign"`
	DepartureStop          string `json:"departure_stop"`
	ScheduledDepartureTime string `json:"scheduled_departure_time"`
	TripID                 string `json:"trip_id,omitempty"`
}

// Complete reports whether every field needed to resolve a trip is set.
func (s TripSelection) Complete() bool {
	return s.RouteShortName != "" && s.TripHeadsign != "" &&
		s.DepartureStop != "" && s.ScheduledDepartureTime != ""
}

// WithTrip returns a copy of the selection bound to tripID.
func (s TripSelection) WithTrip(tripID string) TripSelection {
	s.TripID = tripID
	return s
}

// StopRange narrows a view to the stops between two stop names, inclusive.
// Either bound may be empty.
type StopRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// IsZero reports whether the range has no bounds at all.
func (r StopRange) IsZero() bool {
	return r.From == "" && r.To == ""
}

// IntPtr is a small helper for building optional delays.
func IntPtr(v int) *int {
	return &v
}
