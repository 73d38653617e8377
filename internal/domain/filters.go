package domain

// Field names a filterable observation attribute.
type Field string

const (
	FieldRouteShortName         Field = "route_short_name"
	FieldTripHeadsign           Field = "trip_headsign"
	FieldStopName               Field = "stop_name"
	FieldScheduledDepartureTime Field = "scheduled_departure_time"
	FieldTripID                 Field = "trip_id"
)

// Valid reports whether f is one of the known fields.
func (f Field) Valid() bool {
	switch f {
	case FieldRouteShortName, FieldTripHeadsign, FieldStopName, FieldScheduledDepartureTime, FieldTripID:
		return true
	default:
		return false
	}
}

// Term is a single exact-match condition.
type Term struct {
	Field Field
	Value string
}

// Filters holds exact-match conditions on observation fields. Empty values
// are not applied. Every backend translates Filters through Terms so the
// resolver, the catalog and the history fetch share one definition.
type Filters struct {
	RouteShortName         string
	TripHeadsign           string
	StopName               string
	ScheduledDepartureTime string
	TripID                 string
}

// Terms returns the non-empty conditions in a stable order.
func (f Filters) Terms() []Term {
	terms := make([]Term, 0, 5)
	add := func(field Field, v string) {
		if v != "" {
			terms = append(terms, Term{Field: field, Value: v})
		}
	}
	add(FieldRouteShortName, f.RouteShortName)
	add(FieldTripHeadsign, f.TripHeadsign)
	add(FieldStopName, f.StopName)
	add(FieldScheduledDepartureTime, f.ScheduledDepartureTime)
	add(FieldTripID, f.TripID)
	return terms
}

// Matches reports whether o satisfies every condition.
func (f Filters) Matches(o DelayObservation) bool {
	for _, t := range f.Terms() {
		if o.FieldValue(t.Field) != t.Value {
			return false
		}
	}
	return true
}

// FieldValue returns the value of field on o.
func (o DelayObservation) FieldValue(field Field) string {
	switch field {
	case FieldRouteShortName:
		return o.RouteShortName
	case FieldTripHeadsign:
		return o.TripHeadsign
	case FieldStopName:
		return o.StopName
	case FieldScheduledDepartureTime:
		return o.ScheduledDepartureTime
	case FieldTripID:
		return o.TripID
	default:
		return ""
	}
}

// SelectionFilters builds the trip-resolution filters for a selection.
func SelectionFilters(s TripSelection) Filters {
	return Filters{
		RouteShortName:         s.RouteShortName,
		TripHeadsign:           s.TripHeadsign,
		StopName:               s.DepartureStop,
		ScheduledDepartureTime: s.ScheduledDepartureTime,
	}
}
