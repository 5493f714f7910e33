package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/Anivie/gpt-cat/internal/account"
)

// Store implements account.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed account store using the provided DSN and connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS account_list (
	id SERIAL PRIMARY KEY,
	is_disabled BOOLEAN NOT NULL DEFAULT FALSE,
	use_proxy TEXT,
	api_key TEXT NOT NULL,
	endpoint TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_account_list_endpoint ON account_list(lower(endpoint));
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(ctx context.Context) ([]account.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, is_disabled, use_proxy, api_key, endpoint
FROM account_list
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) ListEnabled(ctx context.Context, endpoints []string) ([]account.Record, error) {
	if len(endpoints) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, is_disabled, use_proxy, api_key, endpoint
FROM account_list
WHERE NOT is_disabled AND lower(endpoint) = ANY($1)
ORDER BY id`, endpointFilter(endpoints))
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) Add(ctx context.Context, rec account.Record) (int64, error) {
	if strings.TrimSpace(rec.APIKey) == "" {
		return 0, errors.New("account requires api key")
	}
	if strings.TrimSpace(rec.Endpoint) == "" {
		return 0, errors.New("account requires endpoint")
	}
	var proxy any
	if strings.TrimSpace(rec.UseProxy) != "" {
		proxy = rec.UseProxy
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO account_list(is_disabled, use_proxy, api_key, endpoint)
VALUES($1, $2, $3, $4)
RETURNING id`, rec.IsDisabled, proxy, rec.APIKey, rec.Endpoint).Scan(&id)
	return id, err
}

func (s *Store) SetEndpointDisabled(ctx context.Context, endpoint string, disabled bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE account_list SET is_disabled = $1 WHERE lower(endpoint) = lower($2)`, disabled, endpoint)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, account.ErrNotFound
	}
	return n, nil
}

// endpointFilter is the text[] argument matched against lower(endpoint).
func endpointFilter(endpoints []string) interface {
	driver.Valuer
	sql.Scanner
} {
	lowered := make([]string, len(endpoints))
	for i, ep := range endpoints {
		lowered[i] = strings.ToLower(strings.TrimSpace(ep))
	}
	return pq.Array(lowered)
}

func scanRecords(rows *sql.Rows) ([]account.Record, error) {
	defer rows.Close()
	var out []account.Record
	for rows.Next() {
		var rec account.Record
		var proxy sql.NullString
		if err := rows.Scan(&rec.ID, &rec.IsDisabled, &proxy, &rec.APIKey, &rec.Endpoint); err != nil {
			return nil, err
		}
		rec.UseProxy = proxy.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
