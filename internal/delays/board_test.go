package delays

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayboard/internal/domain"
)

type recorded struct {
	resolutions []string
	views       []string
}

func (r *recorded) ObserveResolution(outcome string)         { r.resolutions = append(r.resolutions, outcome) }
func (r *recorded) ObserveView(status string, _ time.Duration) { r.views = append(r.views, status) }

func newTestBoard(src *fakeSource) (*Board, *recorded) {
	b := NewBoard(src, DefaultWindows(), discard)
	b.now = func() time.Time { return now }
	rec := &recorded{}
	b.SetRecorder(rec)
	return b, rec
}

func tripObservations() []domain.DelayObservation {
	return []domain.DelayObservation{
		obs("t1", "Zürich HB", 1, 60, nil, p(20)),
		obs("t1", "Winterthur", 2, 40, p(45), p(50)),
		obs("t1", "Frauenfeld", 3, 30, p(95), p(100)),
		obs("t1", "Frauenfeld", 3, 20, p(100), p(110)),
		obs("t1", "Weinfelden", 4, 10, p(200), p(210)),
	}
}

func TestStopView(t *testing.T) {
	b, rec := newTestBoard(&fakeSource{now: now, observations: tripObservations()})

	view, err := b.StopView(context.Background(), selection, domain.StopRange{})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, view.Status)
	assert.Equal(t, "t1", view.Selection.TripID)
	assert.Equal(t, []string{"t1"}, view.TripIDs)
	assert.False(t, view.Ambiguous)
	assert.Empty(t, view.Warning)
	assert.Equal(t, now, view.GeneratedAt)

	require.Len(t, view.Stops, 4)

	first := view.Stops[0]
	assert.Equal(t, "Zürich HB", first.StopName)
	assert.Nil(t, first.DeltaMinutes)
	assert.Equal(t, DeltaNone, first.DeltaTone)
	assert.Equal(t, SeverityOnTime, first.Severity)

	winterthur := view.Stops[1]
	assert.Equal(t, 45, winterthur.CurrentDelaySeconds)
	assert.Equal(t, 1, winterthur.DelayMinutes)
	assert.Equal(t, SeverityBorderline, winterthur.Severity)
	require.NotNil(t, winterthur.DeltaMinutes)
	assert.Equal(t, 1, *winterthur.DeltaMinutes)

	frauenfeld := view.Stops[2]
	assert.Equal(t, []int{95, 100}, frauenfeld.History)
	assert.Equal(t, 100, frauenfeld.CurrentDelaySeconds)
	assert.Equal(t, 2, frauenfeld.DelayMinutes)
	require.NotNil(t, frauenfeld.DeltaMinutes)
	assert.Equal(t, 1, *frauenfeld.DeltaMinutes)
	assert.Equal(t, DeltaInverse, frauenfeld.DeltaTone)

	weinfelden := view.Stops[3]
	assert.Equal(t, SeverityDelayed, weinfelden.Severity)
	assert.Equal(t, "red", weinfelden.Color)

	assert.Equal(t, []string{"single"}, rec.resolutions)
	assert.Equal(t, []string{"ok"}, rec.views)
}

func TestStopViewDeltaExample(t *testing.T) {
	series := []domain.StopSeries{
		{StopName: "A", StopSequence: 1, Delays: []int{45}, CurrentDelaySeconds: 45},
		{StopName: "B", StopSequence: 2, Delays: []int{95}, CurrentDelaySeconds: 95},
		{StopName: "C", StopSequence: 3, Delays: []int{100}, CurrentDelaySeconds: 100},
	}

	views := BuildStopViews(series)
	require.Len(t, views, 3)
	assert.Nil(t, views[0].DeltaMinutes)
	assert.Equal(t, 1, *views[1].DeltaMinutes)
	assert.Equal(t, 0, *views[2].DeltaMinutes)
	assert.Equal(t, DeltaNeutral, views[2].DeltaTone)
}

func TestStopViewWithRange(t *testing.T) {
	b, _ := newTestBoard(&fakeSource{now: now, observations: tripObservations()})

	view, err := b.StopView(context.Background(), selection, domain.StopRange{From: "Frauenfeld", To: "Winterthur"})
	require.NoError(t, err)
	require.Len(t, view.Stops, 2)

	assert.Equal(t, "Winterthur", view.Stops[0].StopName)
	assert.Nil(t, view.Stops[0].DeltaMinutes, "first stop of the displayed range has no delta")
	assert.Equal(t, "Frauenfeld", view.Stops[1].StopName)

	view, err = b.StopView(context.Background(), selection, domain.StopRange{From: "Frauenfeld"})
	require.NoError(t, err)
	assert.Equal(t, domain.StopRange{From: "Frauenfeld", To: "Weinfelden"}, view.Range)
	assert.Len(t, view.Stops, 2)
}

func TestStopViewRangeStartsAtDepartureStop(t *testing.T) {
	b, _ := newTestBoard(&fakeSource{now: now, observations: tripObservations()})
	sel := selection
	sel.DepartureStop = "Winterthur"

	view, err := b.StopView(context.Background(), sel, domain.StopRange{To: "Weinfelden"})
	require.NoError(t, err)
	assert.Equal(t, domain.StopRange{From: "Winterthur", To: "Weinfelden"}, view.Range)
	require.Len(t, view.Stops, 3)
	assert.Equal(t, "Winterthur", view.Stops[0].StopName)
}

func TestStopViewRangeOutsideTrip(t *testing.T) {
	b, _ := newTestBoard(&fakeSource{now: now, observations: tripObservations()})

	_, err := b.StopView(context.Background(), selection, domain.StopRange{From: "Bern", To: "Konstanz"})
	assert.ErrorIs(t, err, ErrStopNotInSeries)
}

func TestStopViewIdle(t *testing.T) {
	src := &fakeSource{now: now, observations: tripObservations()}
	b, rec := newTestBoard(src)

	view, err := b.StopView(context.Background(), domain.TripSelection{RouteShortName: "IR75"}, domain.StopRange{})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, view.Status)
	assert.NotNil(t, view.Stops)
	assert.Empty(t, view.Stops)
	assert.Empty(t, src.distinctCalls)
	assert.Empty(t, rec.resolutions)
}

func TestStopViewNoTrip(t *testing.T) {
	b, rec := newTestBoard(&fakeSource{now: now})

	view, err := b.StopView(context.Background(), selection, domain.StopRange{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoTrip, view.Status)
	assert.Empty(t, view.Selection.TripID)
	assert.Equal(t, []string{"none"}, rec.resolutions)
}

func TestStopViewAmbiguous(t *testing.T) {
	observations := append(tripObservations(), obs("t0", "Zürich HB", 1, 5, nil, p(600)))
	b, rec := newTestBoard(&fakeSource{now: now, observations: observations})

	view, err := b.StopView(context.Background(), selection, domain.StopRange{})
	require.NoError(t, err)
	assert.True(t, view.Ambiguous)
	assert.NotEmpty(t, view.Warning)
	assert.Equal(t, []string{"t0", "t1"}, view.TripIDs)
	assert.Equal(t, "t0", view.Selection.TripID)
	require.Len(t, view.Stops, 1)
	assert.Equal(t, 600, view.Stops[0].CurrentDelaySeconds)
	assert.Equal(t, []string{"ambiguous"}, rec.resolutions)
}

func TestStopViewEmptySeries(t *testing.T) {
	// The trip is known from a departure stop sample older than the history
	// window but inside the trip window.
	b, _ := newTestBoard(&fakeSource{now: now, observations: []domain.DelayObservation{
		obs("t1", "Zürich HB", 1, 60*10, nil, p(20)),
	}})

	view, err := b.StopView(context.Background(), selection, domain.StopRange{From: "Zürich HB"})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, view.Status)
	assert.Equal(t, "t1", view.Selection.TripID)
	assert.Empty(t, view.Stops)
}

func TestStopViewSourceFailure(t *testing.T) {
	boom := errors.New("index unavailable")
	b, _ := newTestBoard(&fakeSource{now: now, err: boom})

	_, err := b.StopView(context.Background(), selection, domain.StopRange{})
	assert.ErrorIs(t, err, boom)
}

func TestStopViewIgnoresIncomingTripID(t *testing.T) {
	b, _ := newTestBoard(&fakeSource{now: now, observations: tripObservations()})

	sel := selection.WithTrip("forged")
	view, err := b.StopView(context.Background(), sel, domain.StopRange{})
	require.NoError(t, err)
	assert.Equal(t, "t1", view.Selection.TripID)
}

func TestTripStops(t *testing.T) {
	b, _ := newTestBoard(&fakeSource{now: now, observations: tripObservations()})

	view, err := b.TripStops(context.Background(), "t1", domain.StopRange{To: "Winterthur"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, view.Status)
	assert.Len(t, view.Stops, 2)

	view, err = b.TripStops(context.Background(), "missing", domain.StopRange{})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, view.Status)

	view, err = b.TripStops(context.Background(), "", domain.StopRange{})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, view.Status)
}

func TestFingerprintIgnoresGenerationTime(t *testing.T) {
	src := &fakeSource{now: now, observations: tripObservations()}
	b, _ := newTestBoard(src)

	first, err := b.StopView(context.Background(), selection, domain.StopRange{})
	require.NoError(t, err)

	b.now = func() time.Time { return now.Add(time.Minute) }
	second, err := b.StopView(context.Background(), selection, domain.StopRange{})
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())

	src.observations = append(src.observations, obs("t1", "Weinfelden", 4, 1, p(260), nil))
	third, err := b.StopView(context.Background(), selection, domain.StopRange{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint(), third.Fingerprint())
}

func TestFreshness(t *testing.T) {
	b, _ := newTestBoard(&fakeSource{now: now, observations: []domain.DelayObservation{
		obs("t1", "Zürich HB", 1, 7, nil, p(20)),
	}})
	b.now = func() time.Time { return now.Add(20 * time.Second) }

	f, err := b.Freshness(context.Background())
	require.NoError(t, err)
	assert.True(t, f.Available)
	assert.Equal(t, now.Add(-7*time.Minute), f.Latest)
	assert.Equal(t, 7, f.MinutesAgo)

	b, _ = newTestBoard(&fakeSource{now: now, observations: []domain.DelayObservation{
		obs("t1", "Zürich HB", 1, 90, nil, p(20)),
	}})
	f, err = b.Freshness(context.Background())
	require.NoError(t, err)
	assert.False(t, f.Available)
}
