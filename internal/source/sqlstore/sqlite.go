package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

// SQLiteStore is a source.Source over a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ source.Source = (*SQLiteStore)(nil)

// OpenSQLite opens the database at path and creates the observation table
// when it is missing.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(Schema, "TEXT")); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "sqlite_source"),
		now:    time.Now,
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert appends observations in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, obs ...domain.DelayObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteDialect.insertStatement())
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, sqliteDialect.insertArgs(o)...); err != nil {
			return fmt.Errorf("insert observation of trip %s: %w", o.TripID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FetchRecentObservations(ctx context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	query, args := sqliteDialect.observationsQuery(f, source.Cutoff(s.now(), window))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var result []domain.DelayObservation
	for rows.Next() {
		var observedAt string
		o, err := scanObservation(rows, &observedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		o.Timestamp, err = time.Parse(sqliteTimeLayout, observedAt)
		if err != nil {
			s.logger.Warn("skipping row with unreadable timestamp", "trip_id", o.TripID, "observed_at", observedAt)
			continue
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observation rows: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) FetchDistinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	query, args, err := sqliteDialect.distinctQuery(field, f, source.Cutoff(s.now(), window))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s: %w", field, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", field, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *SQLiteStore) LatestObservation(ctx context.Context, window time.Duration) (time.Time, bool, error) {
	query, args := sqliteDialect.latestQuery(source.Cutoff(s.now(), window))

	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest observation: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(sqliteTimeLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest observation %q: %w", latest.String, err)
	}
	return t, true, nil
}
