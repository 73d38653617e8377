package delays

import (
	"context"
	"sort"
	"time"

	"delayboard/internal/domain"
)

type distinctCall struct {
	field   domain.Field
	filters domain.Filters
	window  time.Duration
}

// fakeSource filters a fixed observation set; windows are anchored at now.
type fakeSource struct {
	observations []domain.DelayObservation
	now          time.Time
	err          error

	distinctCalls []distinctCall
	fetchWindows  []time.Duration
}

func (f *fakeSource) FetchRecentObservations(_ context.Context, filters domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	f.fetchWindows = append(f.fetchWindows, window)
	if f.err != nil {
		return nil, f.err
	}
	var result []domain.DelayObservation
	for _, o := range f.observations {
		if f.inWindow(o, window) && filters.Matches(o) {
			result = append(result, o)
		}
	}
	return result, nil
}

func (f *fakeSource) FetchDistinct(_ context.Context, field domain.Field, filters domain.Filters, window time.Duration) ([]string, error) {
	f.distinctCalls = append(f.distinctCalls, distinctCall{field, filters, window})
	if f.err != nil {
		return nil, f.err
	}
	seen := map[string]struct{}{}
	var result []string
	for _, o := range f.observations {
		if !f.inWindow(o, window) || !filters.Matches(o) {
			continue
		}
		v := o.FieldValue(field)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}
	// Backends do not promise an order.
	sort.Sort(sort.Reverse(sort.StringSlice(result)))
	return result, nil
}

func (f *fakeSource) LatestObservation(_ context.Context, window time.Duration) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	var latest time.Time
	for _, o := range f.observations {
		if f.inWindow(o, window) && o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}
	return latest, !latest.IsZero(), nil
}

func (f *fakeSource) inWindow(o domain.DelayObservation, window time.Duration) bool {
	return window <= 0 || !o.Timestamp.Before(f.now.Add(-window))
}

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// obs builds an IR75 Konstanz observation departing Zürich HB at 08:04.
func obs(trip, stop string, seq int, minutesAgo int, arrival, departure *int) domain.DelayObservation {
	return domain.DelayObservation{
		TripID:                 trip,
		RouteShortName:         "IR75",
		TripHeadsign:           "Konstanz",
		StopName:               stop,
		StopSequence:           seq,
		ScheduledDepartureTime: "08:04:00",
		Timestamp:              now.Add(-time.Duration(minutesAgo) * time.Minute),
		ArrivalDelay:           arrival,
		DepartureDelay:         departure,
	}
}

var p = domain.IntPtr
