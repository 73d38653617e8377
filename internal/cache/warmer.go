package cache

import (
	"context"
	"log/slog"
	"time"
)

// OptionLister is the part of the selection catalog the warmer pre-fetches.
type OptionLister interface {
	Routes(ctx context.Context) ([]string, error)
	Directions(ctx context.Context, route string) ([]string, error)
}

// Warmer fills the cache with the first two selection steps so the first
// visitor after a restart or expiry does not wait on the backend.
type Warmer struct {
	lister OptionLister
	logger *slog.Logger
}

func NewWarmer(lister OptionLister, logger *slog.Logger) *Warmer {
	return &Warmer{
		lister: lister,
		logger: logger.With("component", "cache_warmer"),
	}
}

func (w *Warmer) WarmAll(ctx context.Context) error {
	start := time.Now()
	w.logger.Info("starting cache warming")

	routes, err := w.lister.Routes(ctx)
	if err != nil {
		w.logger.Error("failed to warm routes", "error", err)
		return err
	}

	warmed := 0
	for _, route := range routes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.lister.Directions(ctx, route); err != nil {
			w.logger.Debug("failed to warm directions", "route", route, "error", err)
			continue
		}
		warmed++
	}

	w.logger.Info("cache warming completed",
		"routes", len(routes),
		"routes_warmed", warmed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Run warms the cache every interval until ctx is cancelled. A non-positive
// interval disables periodic warming.
func (w *Warmer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		w.logger.Info("periodic cache warming disabled", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WarmAll(ctx); err != nil {
				w.logger.Error("scheduled cache warming failed", "error", err)
			}
		}
	}
}
