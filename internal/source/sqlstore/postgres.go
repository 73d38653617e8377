package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delayboard/internal/domain"
	"delayboard/internal/source"
)

// PostgresStore is a source.Source over a Postgres pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ source.Source = (*PostgresStore)(nil)

func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(Schema, "TIMESTAMPTZ")); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "postgres_source"),
		now:    time.Now,
	}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Insert appends observations in one batch.
func (p *PostgresStore) Insert(ctx context.Context, obs ...domain.DelayObservation) error {
	batch := &pgx.Batch{}
	stmt := postgresDialect.insertStatement()
	for _, o := range obs {
		batch.Queue(stmt, postgresDialect.insertArgs(o)...)
	}
	return p.pool.SendBatch(ctx, batch).Close()
}

func (p *PostgresStore) FetchRecentObservations(ctx context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	query, args := postgresDialect.observationsQuery(f, source.Cutoff(p.now(), window))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var result []domain.DelayObservation
	for rows.Next() {
		var observedAt time.Time
		o, err := scanObservation(rows, &observedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		o.Timestamp = observedAt.UTC()
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observation rows: %w", err)
	}
	return result, nil
}

func (p *PostgresStore) FetchDistinct(ctx context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	query, args, err := postgresDialect.distinctQuery(field, f, source.Cutoff(p.now(), window))
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s: %w", field, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", field, err)
	}
	return values, nil
}

func (p *PostgresStore) LatestObservation(ctx context.Context, window time.Duration) (time.Time, bool, error) {
	query, args := postgresDialect.latestQuery(source.Cutoff(p.now(), window))

	var latest *time.Time
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest observation: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}
