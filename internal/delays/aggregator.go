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

// Aggregator turns the observations of a trip into per-stop delay series.
type Aggregator struct {
	src    source.Source
	window time.Duration
	logger *slog.Logger
}

func NewAggregator(src source.Source, window time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		src:    src,
		window: window,
		logger: logger.With("component", "aggregator"),
	}
}

// Aggregate fetches the recent observations of tripID and returns its stop
// series ordered by stop sequence. A trip without observations yields an
// empty result, not an error.
func (a *Aggregator) Aggregate(ctx context.Context, tripID string) ([]domain.StopSeries, error) {
	if tripID == "" {
		return nil, nil
	}

	start := time.Now()
	observations, err := a.src.FetchRecentObservations(ctx, domain.Filters{TripID: tripID}, a.window)
	if err != nil {
		return nil, fmt.Errorf("fetch observations for trip %s: %w", tripID, err)
	}

	series := BuildSeries(observations, a.logger.With("trip_id", tripID))
	if len(series) == 0 {
		a.logger.Debug("empty series", "trip_id", tripID, "error", ErrEmptySeries)
	}

	a.logger.Debug("aggregated trip",
		"trip_id", tripID,
		"observations", len(observations),
		"stops", len(series),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return series, nil
}

type stopGroup struct {
	name         string
	sequence     int
	observations []domain.DelayObservation
}

// BuildSeries groups observations by stop name, orders each group by
// timestamp and reduces it to a delay series. Observations without any delay
// value are dropped, as are stops left with no values. The result is ordered
// by stop sequence, then stop name. The input slice is not modified.
func BuildSeries(observations []domain.DelayObservation, logger *slog.Logger) []domain.StopSeries {
	groups := make(map[string]*stopGroup)
	order := make([]*stopGroup, 0)

	for _, o := range observations {
		g, ok := groups[o.StopName]
		if !ok {
			g = &stopGroup{name: o.StopName, sequence: o.StopSequence}
			groups[o.StopName] = g
			order = append(order, g)
		} else if o.StopSequence != g.sequence {
			logger.Warn("inconsistent stop sequence, keeping first seen",
				"stop_name", o.StopName,
				"first_seen", g.sequence,
				"observed", o.StopSequence,
				"error", ErrDataIntegrity,
			)
		}
		g.observations = append(g.observations, o)
	}

	result := make([]domain.StopSeries, 0, len(order))
	for _, g := range order {
		sort.SliceStable(g.observations, func(i, j int) bool {
			return g.observations[i].Timestamp.Before(g.observations[j].Timestamp)
		})

		delays := make([]int, 0, len(g.observations))
		dropped := 0
		for _, o := range g.observations {
			v, ok := o.DelayValue()
			if !ok {
				dropped++
				continue
			}
			delays = append(delays, v)
		}
		if dropped > 0 {
			logger.Debug("dropped observations", "stop_name", g.name, "count", dropped, "error", ErrMissingDelayValue)
		}
		if len(delays) == 0 {
			continue
		}

		result = append(result, domain.StopSeries{
			StopName:            g.name,
			StopSequence:        g.sequence,
			Delays:              delays,
			CurrentDelaySeconds: delays[len(delays)-1],
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].StopSequence != result[j].StopSequence {
			return result[i].StopSequence < result[j].StopSequence
		}
		return result[i].StopName < result[j].StopName
	})
	return result
}
