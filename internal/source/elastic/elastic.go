// Package elastic reads delay observations from a search index of enriched
// realtime trip updates.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

type Config struct {
	Addresses []string
	APIKey    string
	Index     string
}

// Source is a source.Source backed by an Elasticsearch index. Time windows
// are evaluated by the cluster relative to its own clock.
type Source struct {
	es     *elasticsearch.Client
	index  string
	logger *slog.Logger
}

var _ source.Source = (*Source)(nil)

// New connects to the cluster and verifies it answers.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := es.Info(es.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", res.Status())
	}

	return &Source{
		es:     es,
		index:  cfg.Index,
		logger: logger.With("component", "elastic_source"),
	}, nil
}

// FetchRecentObservations pages through the matching samples newest first
// and returns them in chronological order. Past maxPages pages the oldest
// samples are left out.
func (s *Source) FetchRecentObservations(ctx context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	var (
		result []domain.DelayObservation
		after  []any
	)
	for page := 0; page < maxPages; page++ {
		resp, err := s.search(ctx, "observations", observationsBody(f, window, after))
		if err != nil {
			return nil, err
		}
		hits := resp.Hits.Hits
		for _, h := range hits {
			result = append(result, h.Source.observation())
		}
		if len(hits) < maxHits {
			slices.Reverse(result)
			return result, nil
		}
		after = hits[len(hits)-1].Sort
		if len(after) == 0 {
			break
		}
	}

	s.logger.Warn("observation search truncated, keeping newest samples",
		"limit", maxHits*maxPages, "returned", len(result), "trip_id", f.TripID)
	slices.Reverse(result)
	return result, nil
}

func (s *Source) FetchDistinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	body, err := distinctBody(field, f, window)
	if err != nil {
		return nil, err
	}
	resp, err := s.search(ctx, "distinct_"+string(field), body)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(resp.Aggregations.Values.Buckets))
	for _, b := range resp.Aggregations.Values.Buckets {
		values = append(values, b.Key)
	}
	return values, nil
}

func (s *Source) LatestObservation(ctx context.Context, window time.Duration) (time.Time, bool, error) {
	resp, err := s.search(ctx, "latest", latestBody(window))
	if err != nil {
		return time.Time{}, false, err
	}
	latest, ok := resp.newestBucket()
	return latest, ok, nil
}

func (s *Source) search(ctx context.Context, op string, body object) (searchResponse, error) {
	var resp searchResponse
	start := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return resp, fmt.Errorf("encode %s query: %w", op, err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return resp, fmt.Errorf("search %s: %w", op, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return resp, fmt.Errorf("search %s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode %s response: %w", op, err)
	}

	s.logger.Debug("search completed", "op", op, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}
