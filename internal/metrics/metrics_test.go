package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayboard/internal/domain"
)

type failingSource struct{}

func (failingSource) FetchRecentObservations(context.Context, domain.Filters, time.Duration) ([]domain.DelayObservation, error) {
	return nil, errors.New("down")
}

func (failingSource) FetchDistinct(context.Context, domain.Field, domain.Filters, time.Duration) ([]string, error) {
	return []string{"IR75"}, nil
}

func (failingSource) LatestObservation(context.Context, time.Duration) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func TestCollectorRecorders(t *testing.T) {
	c := NewCollector(15 * time.Second)

	c.CacheLookup("observations", true)
	c.CacheLookup("observations", false)
	c.CacheLookup("observations", false)
	c.ObserveResolution("ambiguous")
	c.ObserveView("ok", 3*time.Millisecond)
	c.NATSSetConnected(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("observations", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("observations", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Resolutions.WithLabelValues("ambiguous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ViewsBuilt.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.RefreshInterval))
}

func TestInstrumentSourceCountsErrors(t *testing.T) {
	c := NewCollector(time.Second)
	src := c.InstrumentSource(failingSource{})

	_, err := src.FetchRecentObservations(context.Background(), domain.Filters{TripID: "t1"}, time.Hour)
	assert.Error(t, err)
	values, err := src.FetchDistinct(context.Background(), domain.FieldRouteShortName, domain.Filters{}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"IR75"}, values)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.FetchErrors.WithLabelValues("observations")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.FetchErrors.WithLabelValues("distinct_route_short_name")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(time.Second)
	c.RateLimitedInc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "delayboard_rate_limited_requests_total 1")
}
