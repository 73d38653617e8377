package delays

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

// Catalog lists the values a user can pick at each step of a selection:
// route, then direction, then stop, then scheduled departure time.
type Catalog struct {
	src     source.Source
	windows Windows
	logger  *slog.Logger
}

func NewCatalog(src source.Source, windows Windows, logger *slog.Logger) *Catalog {
	return &Catalog{
		src:     src,
		windows: windows,
		logger:  logger.With("component", "catalog"),
	}
}

// Routes lists routes with recent observations.
func (c *Catalog) Routes(ctx context.Context) ([]string, error) {
	return c.distinct(ctx, domain.FieldRouteShortName, domain.Filters{}, c.windows.Routes)
}

// Directions lists the headsigns seen on route.
func (c *Catalog) Directions(ctx context.Context, route string) ([]string, error) {
	if route == "" {
		return []string{}, nil
	}
	return c.distinct(ctx, domain.FieldTripHeadsign, domain.Filters{RouteShortName: route}, 0)
}

// Stops lists the stops served by route in the direction of headsign.
func (c *Catalog) Stops(ctx context.Context, route, headsign string) ([]string, error) {
	if route == "" || headsign == "" {
		return []string{}, nil
	}
	return c.distinct(ctx, domain.FieldStopName, domain.Filters{
		RouteShortName: route,
		TripHeadsign:   headsign,
	}, 0)
}

// DepartureTimes lists recent scheduled departure times at stop.
func (c *Catalog) DepartureTimes(ctx context.Context, route, headsign, stop string) ([]string, error) {
	if route == "" || headsign == "" || stop == "" {
		return []string{}, nil
	}
	return c.distinct(ctx, domain.FieldScheduledDepartureTime, domain.Filters{
		RouteShortName: route,
		TripHeadsign:   headsign,
		StopName:       stop,
	}, c.windows.Departures)
}

func (c *Catalog) distinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	values, err := c.src.FetchDistinct(ctx, field, f, window)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", field, err)
	}
	values = sortedUnique(values)
	c.logger.Debug("listed options", "field", string(field), "count", len(values))
	return values, nil
}
