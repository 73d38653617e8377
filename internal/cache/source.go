package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

// TTLs sets how long each kind of query result is reused. A zero TTL
// disables caching for that query.
type TTLs struct {
	Observations time.Duration
	TripIDs      time.Duration
	Routes       time.Duration
	Directions   time.Duration
	Stops        time.Duration
	Departures   time.Duration
	Latest       time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Observations: 10 * time.Second,
		TripIDs:      30 * time.Second,
		Routes:       600 * time.Second,
		Directions:   30 * time.Second,
		Stops:        30 * time.Second,
		Departures:   60 * time.Second,
		Latest:       120 * time.Second,
	}
}

func (t TTLs) forField(field domain.Field) time.Duration {
	switch field {
	case domain.FieldTripID:
		return t.TripIDs
	case domain.FieldRouteShortName:
		return t.Routes
	case domain.FieldTripHeadsign:
		return t.Directions
	case domain.FieldStopName:
		return t.Stops
	case domain.FieldScheduledDepartureTime:
		return t.Departures
	default:
		return 0
	}
}

// Recorder counts cache lookups. It may be nil.
type Recorder interface {
	CacheLookup(op string, hit bool)
}

// Source caches the results of another source.Source. Cache failures are
// logged and fall through to the wrapped source.
type Source struct {
	inner    source.Source
	store    Store
	ttls     TTLs
	logger   *slog.Logger
	recorder Recorder
}

var _ source.Source = (*Source)(nil)

func NewSource(inner source.Source, store Store, ttls TTLs, logger *slog.Logger) *Source {
	return &Source{
		inner:  inner,
		store:  store,
		ttls:   ttls,
		logger: logger.With("component", "cached_source"),
	}
}

func (s *Source) SetRecorder(r Recorder) {
	s.recorder = r
}

func (s *Source) FetchRecentObservations(ctx context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	var result []domain.DelayObservation
	err := s.cached(ctx, "observations", KeyObservations(f, window), s.ttls.Observations, &result, func() (any, error) {
		return s.inner.FetchRecentObservations(ctx, f, window)
	})
	return result, err
}

func (s *Source) FetchDistinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	var result []string
	err := s.cached(ctx, "distinct_"+string(field), KeyDistinct(field, f, window), s.ttls.forField(field), &result, func() (any, error) {
		return s.inner.FetchDistinct(ctx, field, f, window)
	})
	return result, err
}

type latestEntry struct {
	Latest time.Time `json:"latest"`
	OK     bool      `json:"ok"`
}

func (s *Source) LatestObservation(ctx context.Context, window time.Duration) (time.Time, bool, error) {
	var entry latestEntry
	err := s.cached(ctx, "latest", KeyLatest(window), s.ttls.Latest, &entry, func() (any, error) {
		latest, ok, err := s.inner.LatestObservation(ctx, window)
		return latestEntry{Latest: latest, OK: ok}, err
	})
	return entry.Latest, entry.OK, err
}

// InvalidateTrip drops cached observation fetches of tripID.
func (s *Source) InvalidateTrip(ctx context.Context, tripID string) error {
	return s.store.DeletePrefix(ctx, KeyTripPrefix(tripID))
}

// cached decodes the entry at key into dest, or calls load, stores its
// result and decodes that into dest.
func (s *Source) cached(ctx context.Context, op, key string, ttl time.Duration, dest any, load func() (any, error)) error {
	if ttl <= 0 {
		return s.load(load, dest)
	}

	data, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", "op", op, "key", key, "error", err)
	}
	if data != nil {
		decodeErr := json.Unmarshal(data, dest)
		if decodeErr == nil {
			s.record(op, true)
			return nil
		}
		s.logger.Warn("discarding unreadable cache entry", "op", op, "key", key, "error", decodeErr)
	}
	s.record(op, false)

	value, err := load()
	if err != nil {
		return err
	}

	data, err = json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("cache write failed", "op", op, "key", key, "error", err)
	}
	return json.Unmarshal(data, dest)
}

func (s *Source) load(load func() (any, error), dest any) error {
	value, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *Source) record(op string, hit bool) {
	if s.recorder != nil {
		s.recorder.CacheLookup(op, hit)
	}
}
