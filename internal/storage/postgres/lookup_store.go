// Package postgres persists lookup history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/certlookup/internal/grading"
)

const defaultTable = "lookups"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LookupStoreConfig controls the Postgres connection pool for lookup history.
type LookupStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// LookupStore implements grading.LookupRecorder and grading.LookupHistory.
type LookupStore struct {
	pool  querier
	table string
}

// NewLookupStore connects a pool using cfg.
func NewLookupStore(ctx context.Context, cfg LookupStoreConfig) (*LookupStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LookupStore{pool: pool, table: table}, nil
}

// NewLookupStoreWithPool wraps an existing pool (primarily for testing).
func NewLookupStoreWithPool(pool querier, table string) (*LookupStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LookupStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *LookupStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table and its lookup index if missing.
func (s *LookupStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           TEXT PRIMARY KEY,
	cert_number  TEXT        NOT NULL,
	sources      JSONB       NOT NULL,
	results      JSONB       NOT NULL,
	found        BOOLEAN     NOT NULL,
	looked_up_at TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_cert_number_idx ON %[1]s (cert_number, looked_up_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// RecordLookup inserts one history row.
func (s *LookupStore) RecordLookup(ctx context.Context, record grading.LookupRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	sources, err := json.Marshal(nonNil(record.Sources))
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	results, err := json.Marshal(nonNil(record.Results))
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	cert_number,
	sources,
	results,
	found,
	looked_up_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)
	args := []any{
		record.ID,
		record.CertNumber.String(),
		sources,
		results,
		record.Found,
		record.LookedUpAt,
		record.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lookup: %w", err)
	}
	return nil
}

// ListLookups returns the most recent rows for cert, newest first.
func (s *LookupStore) ListLookups(ctx context.Context, cert grading.CertificationNumber, limit int) ([]grading.LookupRecord, error) {
	query := fmt.Sprintf(`
SELECT id, cert_number, sources, results, found, looked_up_at, duration_ms
FROM %s
WHERE cert_number = $1
ORDER BY looked_up_at DESC`, s.table)
	args := []any{cert.String()}
	if limit > 0 {
		query += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lookups: %w", err)
	}
	defer rows.Close()

	records := make([]grading.LookupRecord, 0)
	for rows.Next() {
		var (
			record      grading.LookupRecord
			certNumber  string
			sourcesJSON []byte
			resultsJSON []byte
		)
		if err := rows.Scan(
			&record.ID,
			&certNumber,
			&sourcesJSON,
			&resultsJSON,
			&record.Found,
			&record.LookedUpAt,
			&record.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan lookup: %w", err)
		}
		record.CertNumber = grading.CertificationNumber(certNumber)
		if err := json.Unmarshal(sourcesJSON, &record.Sources); err != nil {
			return nil, fmt.Errorf("decode sources for %s: %w", record.ID, err)
		}
		if err := json.Unmarshal(resultsJSON, &record.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lookups: %w", err)
	}
	return records, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
