// Package delays derives per-stop delay views for a selected trip: it
// resolves the trip, aggregates its observations into stop series, narrows
// them to a stop range and classifies each stop for display.
package delays

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

// Windows bounds how far back each kind of query looks.
type Windows struct {
	Trip       time.Duration // trip identity
	History    time.Duration // delay history charted per stop
	Departures time.Duration // selectable departure times
	Routes     time.Duration // selectable routes
	Freshness  time.Duration // latest-data lookup
}

func DefaultWindows() Windows {
	return Windows{
		Trip:       24 * time.Hour,
		History:    300 * time.Minute,
		Departures: 3 * time.Hour,
		Routes:     2 * time.Hour,
		Freshness:  time.Hour,
	}
}

type ViewStatus string

const (
	StatusIdle   ViewStatus = "idle"    // selection incomplete
	StatusNoTrip ViewStatus = "no_trip" // nothing matches the selection
	StatusEmpty  ViewStatus = "empty"   // trip resolved but no usable observations
	StatusOK     ViewStatus = "ok"
)

const ambiguityWarning = "Multiple trip IDs found, information might be wrong"

// StopView is one stop of a trip, ready for display.
type StopView struct {
	StopName            string    `json:"stop_name"`
	StopSequence        int       `json:"stop_sequence"`
	CurrentDelaySeconds int       `json:"current_delay_seconds"`
	DelayMinutes        int       `json:"delay_minutes"`
	Label               string    `json:"label"`
	Severity            Severity  `json:"severity"`
	Color               string    `json:"color"`
	DeltaMinutes        *int      `json:"delta_minutes"`
	DeltaTone           DeltaTone `json:"delta_tone"`
	History             []int     `json:"history"`
}

// TripView is everything the presentation layer needs for one selection.
type TripView struct {
	Status      ViewStatus           `json:"status"`
	Selection   domain.TripSelection `json:"selection"`
	TripIDs     []string             `json:"trip_ids"`
	Ambiguous   bool                 `json:"ambiguous"`
	Warning     string               `json:"warning,omitempty"`
	Range       domain.StopRange     `json:"range"`
	Stops       []StopView           `json:"stops"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Fingerprint hashes the displayed content of the view, ignoring the
// generation time, so unchanged recomputations can be detected.
func (v *TripView) Fingerprint() string {
	data, _ := json.Marshal(struct {
		Status  ViewStatus
		TripIDs []string
		Range   domain.StopRange
		Stops   []StopView
	}{v.Status, v.TripIDs, v.Range, v.Stops})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Recorder receives outcome counts. It may be nil.
type Recorder interface {
	ObserveResolution(outcome string)
	ObserveView(status string, d time.Duration)
}

// Board answers stop-view requests against a Source.
type Board struct {
	src        source.Source
	resolver   *Resolver
	aggregator *Aggregator
	windows    Windows
	logger     *slog.Logger
	recorder   Recorder
	now        func() time.Time
}

func NewBoard(src source.Source, windows Windows, logger *slog.Logger) *Board {
	return &Board{
		src:        src,
		resolver:   NewResolver(src, windows.Trip, logger),
		aggregator: NewAggregator(src, windows.History, logger),
		windows:    windows,
		logger:     logger.With("component", "board"),
		now:        time.Now,
	}
}

func (b *Board) SetRecorder(r Recorder) {
	b.recorder = r
}

// Resolve matches a selection to trips.
func (b *Board) Resolve(ctx context.Context, sel domain.TripSelection) (Resolution, error) {
	res, err := b.resolver.Resolve(ctx, sel)
	if err != nil {
		return res, err
	}
	if b.recorder != nil && !errors.Is(res.Err, ErrIncompleteSelection) {
		b.recorder.ObserveResolution(resolutionOutcome(res))
	}
	return res, nil
}

// StopView resolves sel and returns the classified stops of the resolved
// trip, narrowed to rng. Only collaborator failures and range bounds that do
// not name a stop of the trip are returned as errors.
func (b *Board) StopView(ctx context.Context, sel domain.TripSelection, rng domain.StopRange) (*TripView, error) {
	start := b.now()
	sel.TripID = ""

	view := &TripView{
		Status:    StatusIdle,
		Selection: sel,
		TripIDs:   []string{},
		Range:     rng,
		Stops:     []StopView{},
	}

	res, err := b.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	switch {
	case errors.Is(res.Err, ErrIncompleteSelection):
		return b.finish(view, start), nil
	case errors.Is(res.Err, ErrNoMatchingTrip):
		view.Status = StatusNoTrip
		return b.finish(view, start), nil
	}

	view.TripIDs = res.TripIDs
	view.Selection = sel.WithTrip(res.TripID)
	if res.Ambiguous() {
		view.Ambiguous = true
		view.Warning = ambiguityWarning
	}

	if err := b.fill(ctx, view, res.TripID, rng, sel.DepartureStop); err != nil {
		return nil, err
	}
	return b.finish(view, start), nil
}

// TripStops returns the classified stops of a known trip without resolving
// a selection.
func (b *Board) TripStops(ctx context.Context, tripID string, rng domain.StopRange) (*TripView, error) {
	start := b.now()
	view := &TripView{
		Status:    StatusIdle,
		Selection: domain.TripSelection{TripID: tripID},
		TripIDs:   []string{},
		Range:     rng,
		Stops:     []StopView{},
	}
	if tripID == "" {
		return b.finish(view, start), nil
	}

	view.TripIDs = []string{tripID}
	if err := b.fill(ctx, view, tripID, rng, ""); err != nil {
		return nil, err
	}
	return b.finish(view, start), nil
}

func (b *Board) fill(ctx context.Context, view *TripView, tripID string, rng domain.StopRange, departure string) error {
	series, err := b.aggregator.Aggregate(ctx, tripID)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		view.Status = StatusEmpty
		return nil
	}

	rng, series, err = applyRange(series, rng, departure)
	if err != nil {
		return fmt.Errorf("select range: %w", err)
	}

	view.Range = rng
	view.Stops = BuildStopViews(series)
	view.Status = StatusOK
	return nil
}

func (b *Board) finish(view *TripView, start time.Time) *TripView {
	view.GeneratedAt = b.now().UTC()
	if b.recorder != nil {
		b.recorder.ObserveView(string(view.Status), b.now().Sub(start))
	}
	return view
}

// BuildStopViews classifies each stop of an ordered series. The first stop
// carries no delta.
func BuildStopViews(series []domain.StopSeries) []StopView {
	views := make([]StopView, 0, len(series))
	for i, s := range series {
		c := Classify(s.CurrentDelaySeconds)
		v := StopView{
			StopName:            s.StopName,
			StopSequence:        s.StopSequence,
			CurrentDelaySeconds: s.CurrentDelaySeconds,
			DelayMinutes:        Minutes(s.CurrentDelaySeconds),
			Label:               c.Label,
			Severity:            c.Severity,
			Color:               c.Color,
			DeltaTone:           DeltaNone,
			History:             append([]int(nil), s.Delays...),
		}
		if i > 0 {
			delta := DeltaMinutes(s.CurrentDelaySeconds, series[i-1].CurrentDelaySeconds)
			v.DeltaMinutes = &delta
			v.DeltaTone = toneFor(delta)
		}
		views = append(views, v)
	}
	return views
}

// Freshness describes how recent the newest observation is.
type Freshness struct {
	Available  bool      `json:"available"`
	Latest     time.Time `json:"latest,omitempty"`
	MinutesAgo int       `json:"minutes_ago"`
}

// Freshness reports the newest observation within the freshness window,
// truncated to the minute.
func (b *Board) Freshness(ctx context.Context) (Freshness, error) {
	latest, ok, err := b.src.LatestObservation(ctx, b.windows.Freshness)
	if err != nil {
		return Freshness{}, fmt.Errorf("latest observation: %w", err)
	}
	if !ok {
		return Freshness{}, nil
	}

	latest = latest.UTC().Truncate(time.Minute)
	ago := b.now().Sub(latest)
	return Freshness{
		Available:  true,
		Latest:     latest,
		MinutesAgo: int(math.Round(ago.Minutes())),
	}, nil
}

func resolutionOutcome(res Resolution) string {
	switch {
	case errors.Is(res.Err, ErrNoMatchingTrip):
		return "none"
	case errors.Is(res.Err, ErrAmbiguousTrip):
		return "ambiguous"
	default:
		return "single"
	}
}
