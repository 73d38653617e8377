package cache

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"delayboard/internal/domain"
)

func filtersKey(f domain.Filters) string {
	terms := f.Terms()
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		parts = append(parts, string(t.Field)+"="+url.QueryEscape(t.Value))
	}
	return strings.Join(parts, "&")
}

// KeyObservations is the cache key of an observation fetch. Keys of one trip
// share KeyTripPrefix so they can be dropped together.
func KeyObservations(f domain.Filters, window time.Duration) string {
	return fmt.Sprintf("%s%s:%s", KeyTripPrefix(f.TripID), filtersKey(f), window)
}

func KeyTripPrefix(tripID string) string {
	return fmt.Sprintf("obs:%s:", url.QueryEscape(tripID))
}

func KeyDistinct(field domain.Field, f domain.Filters, window time.Duration) string {
	return fmt.Sprintf("distinct:%s:%s:%s", field, filtersKey(f), window)
}

func KeyLatest(window time.Duration) string {
	return fmt.Sprintf("latest:%s", window)
}
