// Package sqlstore reads delay observations from a relational table. SQLite
// backs single-node deployments and tests; Postgres backs shared ones.
package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"delayboard/internal/domain"
)

// Schema is the table both backends read from. observed_at is stored as
// sortable UTC text in SQLite and as timestamptz in Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS delay_observations (
	trip_id                  TEXT NOT NULL,
	route_short_name         TEXT NOT NULL,
	trip_headsign            TEXT NOT NULL,
	stop_name                TEXT NOT NULL,
	stop_sequence            INTEGER NOT NULL,
	scheduled_departure_time TEXT NOT NULL,
	observed_at              %s NOT NULL,
	arrival_delay            INTEGER,
	departure_delay          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_delay_observations_trip ON delay_observations (trip_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_delay_observations_route ON delay_observations (route_short_name, trip_headsign);
`

const observationColumns = `trip_id, route_short_name, trip_headsign, stop_name, stop_sequence,
	scheduled_departure_time, observed_at, arrival_delay, departure_delay`

// sqliteTimeLayout sorts lexicographically in time order.
const sqliteTimeLayout = "2006-01-02T15:04:05Z"

type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg:     func(t time.Time) any { return t.UTC() },
}

// columns maps filter fields to table columns. Only these names are ever
// interpolated into SQL.
var columns = map[domain.Field]string{
	domain.FieldRouteShortName:         "route_short_name",
	domain.FieldTripHeadsign:           "trip_headsign",
	domain.FieldStopName:               "stop_name",
	domain.FieldScheduledDepartureTime: "scheduled_departure_time",
	domain.FieldTripID:                 "trip_id",
}

func (d dialect) where(f domain.Filters, cutoff time.Time) (string, []any) {
	var (
		conds []string
		args  []any
	)
	for _, t := range f.Terms() {
		args = append(args, t.Value)
		conds = append(conds, fmt.Sprintf("%s = %s", columns[t.Field], d.placeholder(len(args))))
	}
	if !cutoff.IsZero() {
		args = append(args, d.timeArg(cutoff))
		conds = append(conds, "observed_at >= "+d.placeholder(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (d dialect) observationsQuery(f domain.Filters, cutoff time.Time) (string, []any) {
	where, args := d.where(f, cutoff)
	return "SELECT " + observationColumns + " FROM delay_observations" + where +
		" ORDER BY observed_at, stop_sequence", args
}

func (d dialect) distinctQuery(field domain.Field, f domain.Filters, cutoff time.Time) (string, []any, error) {
	col, ok := columns[field]
	if !ok {
		return "", nil, fmt.Errorf("unknown field %q", field)
	}
	where, args := d.where(f, cutoff)
	return fmt.Sprintf("SELECT DISTINCT %s FROM delay_observations%s ORDER BY %s", col, where, col), args, nil
}

func (d dialect) latestQuery(cutoff time.Time) (string, []any) {
	where, args := d.where(domain.Filters{}, cutoff)
	return "SELECT MAX(observed_at) FROM delay_observations" + where, args
}

func (d dialect) insertStatement() string {
	ph := make([]string, 9)
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return "INSERT INTO delay_observations (" + observationColumns + ") VALUES (" + strings.Join(ph, ", ") + ")"
}

func (d dialect) insertArgs(o domain.DelayObservation) []any {
	return []any{
		o.TripID,
		o.RouteShortName,
		o.TripHeadsign,
		o.StopName,
		o.StopSequence,
		o.ScheduledDepartureTime,
		d.timeArg(o.Timestamp),
		o.ArrivalDelay,
		o.DepartureDelay,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanObservation reads one row of observationColumns. observedAt receives
// the observed_at column and is converted by the caller's backend.
func scanObservation(row scanner, observedAt any) (domain.DelayObservation, error) {
	var o domain.DelayObservation
	err := row.Scan(
		&o.TripID,
		&o.RouteShortName,
		&o.TripHeadsign,
		&o.StopName,
		&o.StopSequence,
		&o.ScheduledDepartureTime,
		observedAt,
		&o.ArrivalDelay,
		&o.DepartureDelay,
	)
	return o, err
}
