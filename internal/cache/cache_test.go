package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayboard/internal/domain"
)

var discard = slog.New(slog.DiscardHandler)

type countingSource struct {
	observations []domain.DelayObservation
	err          error

	fetches   int
	distincts int
	latests   int
}

func (c *countingSource) FetchRecentObservations(_ context.Context, f domain.Filters, _ time.Duration) ([]domain.DelayObservation, error) {
	c.fetches++
	if c.err != nil {
		return nil, c.err
	}
	var result []domain.DelayObservation
	for _, o := range c.observations {
		if f.Matches(o) {
			result = append(result, o)
		}
	}
	return result, nil
}

func (c *countingSource) FetchDistinct(_ context.Context, field domain.Field, f domain.Filters, _ time.Duration) ([]string, error) {
	c.distincts++
	if c.err != nil {
		return nil, c.err
	}
	var result []string
	for _, o := range c.observations {
		if f.Matches(o) {
			result = append(result, o.FieldValue(field))
		}
	}
	return result, nil
}

func (c *countingSource) LatestObservation(context.Context, time.Duration) (time.Time, bool, error) {
	c.latests++
	return time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), true, c.err
}

type lookups struct{ hits, misses int }

func (l *lookups) CacheLookup(_ string, hit bool) {
	if hit {
		l.hits++
	} else {
		l.misses++
	}
}

func fixture() []domain.DelayObservation {
	ts := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	return []domain.DelayObservation{
		{TripID: "t1", RouteShortName: "IR75", StopName: "Zürich HB", StopSequence: 1, Timestamp: ts, DepartureDelay: domain.IntPtr(30)},
		{TripID: "t1", RouteShortName: "IR75", StopName: "Winterthur", StopSequence: 2, Timestamp: ts.Add(time.Minute), ArrivalDelay: domain.IntPtr(60)},
		{TripID: "t2", RouteShortName: "IC5", StopName: "Biel", StopSequence: 1, Timestamp: ts},
	}
}

func TestSourceCachesObservations(t *testing.T) {
	inner := &countingSource{observations: fixture()}
	rec := &lookups{}
	src := NewSource(inner, NewMemoryStore(100), DefaultTTLs(), discard)
	src.SetRecorder(rec)
	ctx := context.Background()

	first, err := src.FetchRecentObservations(ctx, domain.Filters{TripID: "t1"}, time.Hour)
	require.NoError(t, err)
	second, err := src.FetchRecentObservations(ctx, domain.Filters{TripID: "t1"}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.fetches)
	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	require.NotNil(t, second[0].DepartureDelay)
	assert.Nil(t, second[0].ArrivalDelay)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)

	_, err = src.FetchRecentObservations(ctx, domain.Filters{TripID: "t1"}, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.fetches, "a different window is a different entry")
}

func TestSourceInvalidateTrip(t *testing.T) {
	inner := &countingSource{observations: fixture()}
	src := NewSource(inner, NewMemoryStore(100), DefaultTTLs(), discard)
	ctx := context.Background()

	_, err := src.FetchRecentObservations(ctx, domain.Filters{TripID: "t1"}, time.Hour)
	require.NoError(t, err)
	_, err = src.FetchRecentObservations(ctx, domain.Filters{TripID: "t2"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, src.InvalidateTrip(ctx, "t1"))

	_, err = src.FetchRecentObservations(ctx, domain.Filters{TripID: "t1"}, time.Hour)
	require.NoError(t, err)
	_, err = src.FetchRecentObservations(ctx, domain.Filters{TripID: "t2"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.fetches)
}

func TestSourceDistinctUsesFieldTTL(t *testing.T) {
	inner := &countingSource{observations: fixture()}
	ttls := DefaultTTLs()
	ttls.TripIDs = 0
	src := NewSource(inner, NewMemoryStore(100), ttls, discard)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		routes, err := src.FetchDistinct(ctx, domain.FieldRouteShortName, domain.Filters{}, time.Hour)
		require.NoError(t, err)
		assert.Len(t, routes, 3)
	}
	assert.Equal(t, 1, inner.distincts)

	for i := 0; i < 3; i++ {
		_, err := src.FetchDistinct(ctx, domain.FieldTripID, domain.Filters{RouteShortName: "IR75"}, time.Hour)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, inner.distincts, "trip id lookups are not cached with a zero TTL")
}

func TestSourceLatest(t *testing.T) {
	inner := &countingSource{}
	src := NewSource(inner, NewMemoryStore(100), DefaultTTLs(), discard)

	for i := 0; i < 2; i++ {
		latest, ok, err := src.LatestObservation(context.Background(), time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 8, latest.Hour())
	}
	assert.Equal(t, 1, inner.latests)
}

func TestSourceDoesNotCacheErrors(t *testing.T) {
	boom := errors.New("timeout")
	inner := &countingSource{err: boom}
	src := NewSource(inner, NewMemoryStore(100), DefaultTTLs(), discard)

	_, err := src.FetchRecentObservations(context.Background(), domain.Filters{TripID: "t1"}, time.Hour)
	assert.ErrorIs(t, err, boom)

	inner.err = nil
	inner.observations = fixture()
	obs, err := src.FetchRecentObservations(context.Background(), domain.Filters{TripID: "t1"}, time.Hour)
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

func TestMemoryStoreExpiry(t *testing.T) {
	m := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 20*time.Millisecond))
	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	time.Sleep(40 * time.Millisecond)
	v, err = m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	m := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "obs:t1:x", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "obs:t1:y", []byte("2"), time.Minute))
	require.NoError(t, m.Set(ctx, "obs:t10:x", []byte("3"), time.Minute))

	require.NoError(t, m.DeletePrefix(ctx, KeyTripPrefix("t1")))
	assert.Equal(t, 1, m.Len())
}

func TestKeys(t *testing.T) {
	k := KeyObservations(domain.Filters{TripID: "a:b"}, time.Hour)
	assert.True(t, strings.HasPrefix(k, KeyTripPrefix("a:b")))
	assert.False(t, strings.HasPrefix(k, KeyTripPrefix("a")))

	assert.NotEqual(t,
		KeyDistinct(domain.FieldStopName, domain.Filters{RouteShortName: "IR75"}, 0),
		KeyDistinct(domain.FieldStopName, domain.Filters{TripHeadsign: "IR75"}, 0),
	)
}

func TestPayloadEncoding(t *testing.T) {
	small := []byte(`{"a":1}`)
	enc, err := encodePayload(small)
	require.NoError(t, err)
	assert.Equal(t, markerRaw, enc[0])

	large := []byte(strings.Repeat("Winterthur,", 200))
	enc, err = encodePayload(large)
	require.NoError(t, err)
	assert.Equal(t, markerGzip, enc[0])
	assert.Less(t, len(enc), len(large))

	dec, err := decodePayload(enc)
	require.NoError(t, err)
	assert.Equal(t, large, dec)

	_, err = decodePayload([]byte("x"))
	assert.Error(t, err)
}

type listerStub struct {
	directions []string
}

func (l *listerStub) Routes(context.Context) ([]string, error) { return []string{"IR75", "IC5"}, nil }
func (l *listerStub) Directions(_ context.Context, route string) ([]string, error) {
	l.directions = append(l.directions, route)
	return nil, nil
}

func TestWarmerWarmsEveryRoute(t *testing.T) {
	l := &listerStub{}
	require.NoError(t, NewWarmer(l, discard).WarmAll(context.Background()))
	assert.Equal(t, []string{"IR75", "IC5"}, l.directions)
}

func TestWarmerRunWithoutInterval(t *testing.T) {
	l := &listerStub{}
	done := make(chan struct{})
	go func() {
		NewWarmer(l, discard).Run(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a zero interval")
	}
	assert.Empty(t, l.directions)
}
