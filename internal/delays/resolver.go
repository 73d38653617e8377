package delays

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

// Resolution is the outcome of matching a selection to trips. Err is nil for
// a single match, otherwise one of ErrIncompleteSelection, ErrNoMatchingTrip
// or ErrAmbiguousTrip. None of those are failures.
type Resolution struct {
	TripIDs []string `json:"trip_ids"`
	TripID  string   `json:"trip_id,omitempty"`
	Err     error    `json:"-"`
}

// Ambiguous reports whether more than one trip matched.
func (r Resolution) Ambiguous() bool {
	return len(r.TripIDs) > 1
}

// Resolver finds the trips matching a route, direction, stop and scheduled
// departure time.
type Resolver struct {
	src    source.Source
	window time.Duration
	logger *slog.Logger
}

func NewResolver(src source.Source, window time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		src:    src,
		window: window,
		logger: logger.With("component", "resolver"),
	}
}

// Resolve returns the distinct trip ids matching all four inputs. When more
// than one matches, the lexicographically first is chosen.
func (r *Resolver) Resolve(ctx context.Context, sel domain.TripSelection) (Resolution, error) {
	if !sel.Complete() {
		return Resolution{TripIDs: []string{}, Err: ErrIncompleteSelection}, nil
	}

	ids, err := r.src.FetchDistinct(ctx, domain.FieldTripID, domain.SelectionFilters(sel), r.window)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve trip: %w", err)
	}
	ids = sortedUnique(ids)

	res := Resolution{TripIDs: ids}
	switch len(ids) {
	case 0:
		res.Err = ErrNoMatchingTrip
		r.logger.Debug("no matching trip",
			"route", sel.RouteShortName,
			"headsign", sel.TripHeadsign,
			"stop", sel.DepartureStop,
			"departure", sel.ScheduledDepartureTime,
		)
	case 1:
		res.TripID = ids[0]
	default:
		res.TripID = ids[0]
		res.Err = ErrAmbiguousTrip
		r.logger.Warn("ambiguous trip selection",
			"route", sel.RouteShortName,
			"headsign", sel.TripHeadsign,
			"stop", sel.DepartureStop,
			"departure", sel.ScheduledDepartureTime,
			"trip_ids", ids,
			"chosen", res.TripID,
		)
	}
	return res, nil
}

func sortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}
