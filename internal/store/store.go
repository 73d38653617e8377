package store

import (
	"sort"
	"sync"
	"time"

	"delayboard/internal/domain"
)

// Store keeps delay observations in memory, indexed by trip and route.
// Reads return copies; Replace swaps the whole data set atomically.
type Store struct {
	mu           sync.RWMutex
	observations []domain.DelayObservation
	byTrip       map[string][]int
	byRoute      map[string][]int

	latest     time.Time
	lastUpdate time.Time
}

func New() *Store {
	return &Store{
		byTrip:  make(map[string][]int),
		byRoute: make(map[string][]int),
	}
}

// Replace drops the current data set and indexes observations instead.
func (s *Store) Replace(observations []domain.DelayObservation) {
	byTrip := make(map[string][]int)
	byRoute := make(map[string][]int)
	var latest time.Time

	for i, o := range observations {
		byTrip[o.TripID] = append(byTrip[o.TripID], i)
		byRoute[o.RouteShortName] = append(byRoute[o.RouteShortName], i)
		if o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.observations = observations
	s.byTrip = byTrip
	s.byRoute = byRoute
	s.latest = latest
	s.lastUpdate = time.Now()
}

// Query returns observations matching f with a timestamp at or after since.
// A zero since disables the time bound.
func (s *Store) Query(f domain.Filters, since time.Time) []domain.DelayObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.DelayObservation
	for _, i := range s.candidates(f) {
		o := s.observations[i]
		if !since.IsZero() && o.Timestamp.Before(since) {
			continue
		}
		if !f.Matches(o) {
			continue
		}
		result = append(result, copyObservation(o))
	}
	return result
}

// Distinct returns the sorted distinct values of field over matching observations.
func (s *Store) Distinct(field domain.Field, f domain.Filters, since time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, i := range s.candidates(f) {
		o := s.observations[i]
		if !since.IsZero() && o.Timestamp.Before(since) {
			continue
		}
		if !f.Matches(o) {
			continue
		}
		if v := o.FieldValue(field); v != "" {
			seen[v] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for v := range seen {
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}

// Latest returns the newest observation timestamp in the store.
func (s *Store) Latest() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations)
}

type Stats struct {
	Observations int       `json:"observations"`
	Trips        int       `json:"trips"`
	Routes       int       `json:"routes"`
	Latest       time.Time `json:"latest"`
	LastUpdate   time.Time `json:"last_update"`
	IsLoaded     bool      `json:"is_loaded"`
}

func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Observations: len(s.observations),
		Trips:        len(s.byTrip),
		Routes:       len(s.byRoute),
		Latest:       s.latest,
		LastUpdate:   s.lastUpdate,
		IsLoaded:     !s.lastUpdate.IsZero(),
	}
}

func (s *Store) candidates(f domain.Filters) []int {
	if f.TripID != "" {
		return s.byTrip[f.TripID]
	}
	if f.RouteShortName != "" {
		return s.byRoute[f.RouteShortName]
	}

	all := make([]int, len(s.observations))
	for i := range all {
		all[i] = i
	}
	return all
}

func copyObservation(o domain.DelayObservation) domain.DelayObservation {
	if o.ArrivalDelay != nil {
		o.ArrivalDelay = domain.IntPtr(*o.ArrivalDelay)
	}
	if o.DepartureDelay != nil {
		o.DepartureDelay = domain.IntPtr(*o.DepartureDelay)
	}
	return o
}
