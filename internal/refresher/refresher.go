// Package refresher keeps live-watched views current: it recomputes every
// subscribed selection on an interval, and right away when a trip is
// reported updated.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"delayboard/internal/delays"
	"delayboard/internal/domain"
	"delayboard/internal/hub"
)

type Viewer interface {
	StopView(ctx context.Context, sel domain.TripSelection, rng domain.StopRange) (*delays.TripView, error)
	Freshness(ctx context.Context) (delays.Freshness, error)
}

type Publisher interface {
	Topics() []hub.Topic
	Publish(key string, view *delays.TripView) bool
}

// maxConcurrent bounds parallel view computations per refresh.
const maxConcurrent = 8

type Refresher struct {
	viewer    Viewer
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
	triggers  chan string
	loaded    func() bool

	mu        sync.RWMutex
	ready     bool
	freshness delays.Freshness
	lastRun   time.Time
}

func New(viewer Viewer, publisher Publisher, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		viewer:    viewer,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "refresher"),
		triggers:  make(chan string, 64),
	}
}

// RequireLoaded makes readiness also wait for loaded to report true, for
// backends that fill asynchronously.
func (r *Refresher) RequireLoaded(loaded func() bool) {
	r.loaded = loaded
}

func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx, "")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, "")
		case tripID := <-r.triggers:
			r.refresh(ctx, tripID)
		}
	}
}

// Trigger schedules an immediate refresh of the topics showing tripID and of
// topics that have not resolved a trip yet.
func (r *Refresher) Trigger(tripID string) {
	select {
	case r.triggers <- tripID:
	default:
		r.logger.Warn("trigger queue full, waiting for next tick", "trip_id", tripID)
	}
}

// refresh recomputes topics. An empty tripID refreshes all of them.
func (r *Refresher) refresh(ctx context.Context, tripID string) {
	start := time.Now()
	r.probe(ctx)

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, maxConcurrent)
		pushMu sync.Mutex
		pushed int
	)

	topics := r.publisher.Topics()
	refreshed := 0
	for _, t := range topics {
		if tripID != "" && t.TripID != "" && t.TripID != tripID {
			continue
		}
		refreshed++

		wg.Add(1)
		sem <- struct{}{}
		go func(t hub.Topic) {
			defer wg.Done()
			defer func() { <-sem }()

			view, err := r.viewer.StopView(ctx, t.Selection, t.Range)
			if err != nil {
				r.logger.Error("failed to refresh view", "key", t.Key, "error", err)
				return
			}
			if r.publisher.Publish(t.Key, view) {
				pushMu.Lock()
				pushed++
				pushMu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	if refreshed > 0 {
		r.logger.Debug("refresh completed",
			"trip_id", tripID,
			"topics", refreshed,
			"pushed", pushed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// probe refreshes data freshness. A successful probe marks the refresher
// ready.
func (r *Refresher) probe(ctx context.Context) {
	f, err := r.viewer.Freshness(ctx)
	if err != nil {
		r.logger.Error("freshness probe failed", "error", err)
		return
	}

	ready := r.loaded == nil || r.loaded()

	r.mu.Lock()
	r.freshness = f
	wasReady := r.ready
	r.ready = ready
	r.mu.Unlock()

	if ready && !wasReady {
		r.logger.Info("refresher ready", "data_available", f.Available, "minutes_ago", f.MinutesAgo)
	}
}

func (r *Refresher) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Status is the last known state of the data source.
type Status struct {
	Ready     bool             `json:"ready"`
	Freshness delays.Freshness `json:"freshness"`
	LastRun   time.Time        `json:"last_run"`
}

func (r *Refresher) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{Ready: r.ready, Freshness: r.freshness, LastRun: r.lastRun}
}
