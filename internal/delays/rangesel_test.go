package delays

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayboard/internal/domain"
)

func lineSeries() []domain.StopSeries {
	names := []string{"Zürich HB", "Zürich Flughafen", "Winterthur", "Frauenfeld", "Weinfelden", "Konstanz"}
	series := make([]domain.StopSeries, len(names))
	for i, n := range names {
		series[i] = domain.StopSeries{StopName: n, StopSequence: (i + 1) * 10, Delays: []int{i * 30}, CurrentDelaySeconds: i * 30}
	}
	return series
}

func stopNames(series []domain.StopSeries) []string {
	names := make([]string, len(series))
	for i, s := range series {
		names[i] = s.StopName
	}
	return names
}

func TestSelectRangeInclusive(t *testing.T) {
	got, err := SelectRange(lineSeries(), "Zürich Flughafen", "Weinfelden")
	require.NoError(t, err)
	assert.Equal(t, []string{"Zürich Flughafen", "Winterthur", "Frauenfeld", "Weinfelden"}, stopNames(got))
}

func TestSelectRangeIsEndpointOrderIndependent(t *testing.T) {
	forward, err := SelectRange(lineSeries(), "Winterthur", "Konstanz")
	require.NoError(t, err)
	reversed, err := SelectRange(lineSeries(), "Konstanz", "Winterthur")
	require.NoError(t, err)

	assert.Equal(t, forward, reversed)
}

func TestSelectRangeSingleStop(t *testing.T) {
	got, err := SelectRange(lineSeries(), "Frauenfeld", "Frauenfeld")
	require.NoError(t, err)
	assert.Equal(t, []string{"Frauenfeld"}, stopNames(got))
}

func TestSelectRangeUnknownStop(t *testing.T) {
	_, err := SelectRange(lineSeries(), "Zürich HB", "St. Gallen")
	assert.ErrorIs(t, err, ErrStopNotInSeries)

	_, err = SelectRange(lineSeries(), "Bern", "Konstanz")
	assert.ErrorIs(t, err, ErrStopNotInSeries)
}

func TestApplyRangeDefaults(t *testing.T) {
	rng, got, err := applyRange(lineSeries(), domain.StopRange{From: "Frauenfeld"}, "Winterthur")
	require.NoError(t, err)
	assert.Equal(t, domain.StopRange{From: "Frauenfeld", To: "Konstanz"}, rng)
	assert.Equal(t, []string{"Frauenfeld", "Weinfelden", "Konstanz"}, stopNames(got))

	rng, got, err = applyRange(lineSeries(), domain.StopRange{To: "Zürich Flughafen"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Zürich HB", rng.From)
	assert.Equal(t, []string{"Zürich HB", "Zürich Flughafen"}, stopNames(got))

	rng, got, err = applyRange(lineSeries(), domain.StopRange{To: "Weinfelden"}, "Winterthur")
	require.NoError(t, err)
	assert.Equal(t, domain.StopRange{From: "Winterthur", To: "Weinfelden"}, rng)
	assert.Equal(t, []string{"Winterthur", "Frauenfeld", "Weinfelden"}, stopNames(got))

	rng, _, err = applyRange(lineSeries(), domain.StopRange{To: "Weinfelden"}, "Bern")
	require.NoError(t, err)
	assert.Equal(t, "Zürich HB", rng.From, "departure outside the series falls back to the first stop")

	_, got, err = applyRange(lineSeries(), domain.StopRange{}, "Winterthur")
	require.NoError(t, err)
	assert.Len(t, got, 6)
}
