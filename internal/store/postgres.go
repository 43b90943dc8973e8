// Package store reads the local study catalog kept in Postgres.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperengineering/studysync/internal/types"
	"github.com/hyperengineering/studysync/internal/window"
)

// Options configures a PostgresStore.
type Options struct {
	DSN          string
	QueryTimeout time.Duration
	MaxConns     int32
}

// PostgresStore queries the metadata table for studies already held locally.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresStore connects to Postgres and verifies the connection.
// Connection failures wrap ErrUnavailable.
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", ErrUnavailable, err)
	}
	// One catalog query per run; a small pool is plenty.
	poolCfg.MaxConns = 2
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := withTimeout(ctx, opts.QueryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	return &PostgresStore{
		pool:         pool,
		queryTimeout: opts.QueryTimeout,
	}, nil
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// QueryStudies returns one record per (subject name, subject id, study date)
// group of table within the window, with the number of stored instances in
// that group. Identity fields are returned as the driver decoded them.
func (s *PostgresStore) QueryStudies(ctx context.Context, table string, w window.Window) ([]types.LocalRecord, error) {
	ident, err := ParseTable(table)
	if err != nil {
		return nil, &QueryError{Table: table, Err: err}
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, studiesQuery(ident), w.StartDate(), w.EndDate())
	if err != nil {
		return nil, &QueryError{Table: ident.Sanitize(), Err: err}
	}
	defer rows.Close()

	var records []types.LocalRecord
	for rows.Next() {
		var (
			name, id, date any
			count          int64
		)
		if err := rows.Scan(&name, &id, &date, &count); err != nil {
			return nil, &QueryError{Table: ident.Sanitize(), Err: fmt.Errorf("scan: %w", err)}
		}
		records = append(records, types.LocalRecord{
			Raw:   types.RawIdentity{SubjectName: name, SubjectID: id, StudyDate: date},
			Count: count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Table: ident.Sanitize(), Err: err}
	}

	return records, nil
}

func studiesQuery(table pgx.Identifier) string {
	return `SELECT patient_name, patient_id, acquisition_date, COUNT(*)
		FROM ` + table.Sanitize() + `
		WHERE acquisition_date BETWEEN $1 AND $2
		GROUP BY patient_name, patient_id, acquisition_date
		ORDER BY acquisition_date, patient_name`
}

// ParseTable splits an optionally schema-qualified table name into an identifier.
func ParseTable(name string) (pgx.Identifier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTable)
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTable, name)
		}
	}
	return pgx.Identifier(parts), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
