package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"energy_billing/internal/model"
)

const defaultReadingsTable = "interval_readings"

// SQLStore keeps readings in a single Postgres table with the same columns
// as the flat file. Timestamps are stored without time zone.
type SQLStore struct {
	db    *sql.DB
	table string
}

// SQLOption configures the SQL store.
type SQLOption func(*SQLStore)

// WithTable overrides the default table name.
func WithTable(table string) SQLOption {
	return func(s *SQLStore) {
		if s != nil && table != "" {
			s.table = table
		}
	}
}

// OpenSQL connects through the pgx database/sql driver.
func OpenSQL(ctx context.Context, dsn string, opts ...SQLOption) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("sql store: empty database url")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql store: ping: %w", err)
	}
	return NewSQL(db, opts...), nil
}

// NewSQL wraps an existing connection pool.
func NewSQL(db *sql.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the readings table and its series index.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	account_number TEXT NOT NULL DEFAULT '',
	nmi TEXT NOT NULL,
	device_number TEXT NOT NULL DEFAULT '',
	device_type TEXT NOT NULL DEFAULT '',
	register_code TEXT NOT NULL,
	rate_type TEXT NOT NULL,
	start_at TIMESTAMP NOT NULL,
	start_day SMALLINT NOT NULL,
	start_month SMALLINT NOT NULL,
	start_quarter SMALLINT NOT NULL,
	start_year INTEGER NOT NULL,
	end_at TIMESTAMP NOT NULL,
	profile_read_value NUMERIC(20,6) NOT NULL,
	register_read_value NUMERIC(20,6) NOT NULL DEFAULT 0,
	quality_flag TEXT NOT NULL DEFAULT ''
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_series_idx ON %s (nmi, register_code, start_at)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_start_idx ON %s (start_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sql store: schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, rows []model.IntervalReading) error {
	if err := Validate(rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	account_number, nmi, device_number, device_type, register_code, rate_type,
	start_at, start_day, start_month, start_quarter, start_year, end_at,
	profile_read_value, register_read_value, quality_flag
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, s.table))
	if err != nil {
		return fmt.Errorf("sql store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.AccountNumber, r.NMI, r.DeviceNumber, r.DeviceType, r.RegisterCode, string(r.RateType),
			r.Start.UTC(), r.StartDay(), r.StartMonth(), r.StartQuarter(), r.StartYear(), r.End.UTC(),
			r.ProfileReadValue, r.RegisterReadValue, r.QualityFlag,
		); err != nil {
			return fmt.Errorf("sql store: insert %s: %w", r.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql store: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) LastTimestamp(ctx context.Context, nmi, registerCode string) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT MAX(start_at) FROM %s WHERE nmi = $1 AND register_code = $2`, s.table)

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, nmi, registerCode).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("sql store: last timestamp: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time.UTC(), true, nil
}

func (s *SQLStore) StartsBetween(ctx context.Context, nmi, registerCode string, from, to time.Time) (map[time.Time]struct{}, error) {
	query := fmt.Sprintf(`
SELECT start_at
FROM %s
WHERE nmi = $1
	AND register_code = $2
	AND start_at >= $3
	AND start_at <= $4`, s.table)

	rows, err := s.db.QueryContext(ctx, query, nmi, registerCode, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sql store: starts: %w", err)
	}
	defer rows.Close()

	found := make(map[time.Time]struct{})
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		found[ts.UTC()] = struct{}{}
	}
	return found, rows.Err()
}

func (s *SQLStore) ReadRange(ctx context.Context, start, end time.Time, nmi string) iter.Seq2[model.IntervalReading, error] {
	query := fmt.Sprintf(`
SELECT account_number, nmi, device_number, device_type, register_code, rate_type,
	start_at, end_at, profile_read_value, register_read_value, quality_flag
FROM %s
WHERE start_at >= $1
	AND start_at < $2
	AND ($3 = '' OR nmi = $3)
ORDER BY start_at ASC, register_code ASC, nmi ASC, id ASC`, s.table)

	return func(yield func(model.IntervalReading, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC(), nmi)
		if err != nil {
			yield(model.IntervalReading{}, fmt.Errorf("sql store: read range: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r        model.IntervalReading
				rateType string
			)
			if err := rows.Scan(
				&r.AccountNumber, &r.NMI, &r.DeviceNumber, &r.DeviceType, &r.RegisterCode, &rateType,
				&r.Start, &r.End, &r.ProfileReadValue, &r.RegisterReadValue, &r.QualityFlag,
			); err != nil {
				yield(model.IntervalReading{}, err)
				return
			}
			r.RateType = model.RateType(rateType)
			r.Start = r.Start.UTC()
			r.End = r.End.UTC()
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.IntervalReading{}, err)
		}
	}
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
