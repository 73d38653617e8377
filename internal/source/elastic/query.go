package elastic

import (
	"fmt"
	"time"

	"delayboard/internal/domain"
)

// fields maps filter fields to keyword fields of the enriched trip-update
// documents.
var fields = map[domain.Field]string{
	domain.FieldRouteShortName:         "route.route_short_name.keyword",
	domain.FieldTripHeadsign:           "trip_enriched.trip_headsign.keyword",
	domain.FieldStopName:               "stop.stop_name.keyword",
	domain.FieldScheduledDepartureTime: "stop_time.departure_time.keyword",
	domain.FieldTripID:                 "trip.trip_id.keyword",
}

const (
	timestampField = "@timestamp"
	maxHits        = 1000
	maxPages       = 10
	maxBuckets     = 1000
)

var sourceFields = []string{
	timestampField,
	"trip.trip_id",
	"route.route_short_name",
	"trip_enriched.trip_headsign",
	"stop.stop_name",
	"stop_time.departure_time",
	"stop_sequence",
	"arrival.delay",
	"departure.delay",
}

type object = map[string]any

// dateMath renders window as a relative lower bound, e.g. "now-300m".
func dateMath(window time.Duration) string {
	if window%time.Minute == 0 {
		return fmt.Sprintf("now-%dm", int(window/time.Minute))
	}
	return fmt.Sprintf("now-%ds", int(window/time.Second))
}

func filterQuery(f domain.Filters, window time.Duration) object {
	clauses := []any{}
	for _, t := range f.Terms() {
		clauses = append(clauses, object{"term": object{fields[t.Field]: t.Value}})
	}
	if window > 0 {
		clauses = append(clauses, object{"range": object{timestampField: object{
			"format": "strict_date_optional_time",
			"gte":    dateMath(window),
		}}})
	}
	return object{"bool": object{"filter": clauses}}
}

// observationSort pages newest first. Trip and stop sequence break ties
// between samples sharing a timestamp.
var observationSort = []any{
	object{timestampField: object{"order": "desc"}},
	object{"trip.trip_id.keyword": object{"order": "asc"}},
	object{"stop_sequence": object{"order": "asc"}},
}

func observationsBody(f domain.Filters, window time.Duration, after []any) object {
	body := object{
		"query":   filterQuery(f, window),
		"size":    maxHits,
		"_source": sourceFields,
		"sort":    observationSort,
	}
	if len(after) > 0 {
		body["search_after"] = after
	}
	return body
}

func distinctBody(field domain.Field, f domain.Filters, window time.Duration) (object, error) {
	name, ok := fields[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	return object{
		"query": filterQuery(f, window),
		"size":  0,
		"aggs": object{"values": object{"terms": object{
			"field": name,
			"size":  maxBuckets,
		}}},
	}, nil
}

func latestBody(window time.Duration) object {
	return object{
		"query": filterQuery(domain.Filters{}, window),
		"size":  0,
		"aggs": object{"docs_per_min": object{"date_histogram": object{
			"field":          timestampField,
			"fixed_interval": "1m",
			"min_doc_count":  1,
		}}},
	}
}

type delayField struct {
	Delay *int `json:"delay"`
}

type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Trip      struct {
		TripID string `json:"trip_id"`
	} `json:"trip"`
	Route struct {
		RouteShortName string `json:"route_short_name"`
	} `json:"route"`
	TripEnriched struct {
		TripHeadsign string `json:"trip_headsign"`
	} `json:"trip_enriched"`
	Stop struct {
		StopName string `json:"stop_name"`
	} `json:"stop"`
	StopTime struct {
		DepartureTime string `json:"departure_time"`
	} `json:"stop_time"`
	StopSequence int         `json:"stop_sequence"`
	Arrival      *delayField `json:"arrival"`
	Departure    *delayField `json:"departure"`
}

func (d document) observation() domain.DelayObservation {
	o := domain.DelayObservation{
		TripID:                 d.Trip.TripID,
		RouteShortName:         d.Route.RouteShortName,
		TripHeadsign:           d.TripEnriched.TripHeadsign,
		StopName:               d.Stop.StopName,
		StopSequence:           d.StopSequence,
		ScheduledDepartureTime: d.StopTime.DepartureTime,
		Timestamp:              d.Timestamp.UTC(),
	}
	if d.Arrival != nil {
		o.ArrivalDelay = d.Arrival.Delay
	}
	if d.Departure != nil {
		o.DepartureDelay = d.Departure.Delay
	}
	return o
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source document `json:"_source"`
			Sort   []any    `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Values struct {
			Buckets []struct {
				Key string `json:"key"`
			} `json:"buckets"`
		} `json:"values"`
		DocsPerMin struct {
			Buckets []struct {
				Key      int64 `json:"key"`
				DocCount int64 `json:"doc_count"`
			} `json:"buckets"`
		} `json:"docs_per_min"`
	} `json:"aggregations"`
}

// newestBucket returns the start of the newest non-empty minute bucket.
func (r searchResponse) newestBucket() (time.Time, bool) {
	var (
		newest int64
		found  bool
	)
	for _, b := range r.Aggregations.DocsPerMin.Buckets {
		if b.DocCount > 0 && (!found || b.Key > newest) {
			newest = b.Key
			found = true
		}
	}
	if !found {
		return time.Time{}, false
	}
	return time.UnixMilli(newest).UTC(), true
}
