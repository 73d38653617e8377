// Package source defines the data-access collaborator the delay board reads
// observations from, and the static snapshot implementation of it.
package source

import (
	"context"
	"time"

	"delayboard/internal/domain"
)

// Source is a read-only view over delay observations. A zero window means
// the query is not time bounded.
type Source interface {
	FetchRecentObservations(ctx context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error)
	FetchDistinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error)
	// LatestObservation returns the newest observation time inside window.
	// ok is false when the window holds no data.
	LatestObservation(ctx context.Context, window time.Duration) (latest time.Time, ok bool, err error)
}

// Cutoff returns the lower time bound for window relative to now.
func Cutoff(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return now.Add(-window)
}
