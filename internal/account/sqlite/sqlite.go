package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/Anivie/gpt-cat/internal/account"
)

// Store implements account.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite account store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create account store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	is_disabled BOOLEAN NOT NULL DEFAULT 0,
	use_proxy TEXT,
	api_key TEXT NOT NULL,
	endpoint TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_account_list_endpoint ON account_list(endpoint);
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
	marks := make([]string, len(endpoints))
	args := make([]any, len(endpoints))
	for i, ep := range endpoints {
		marks[i] = "?"
		args[i] = strings.ToLower(ep)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, is_disabled, use_proxy, api_key, endpoint
FROM account_list
WHERE is_disabled = 0 AND lower(endpoint) IN (`+strings.Join(marks, ",")+`)
ORDER BY id`, args...)
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
	res, err := s.db.ExecContext(ctx, `
INSERT INTO account_list(is_disabled, use_proxy, api_key, endpoint)
VALUES(?, ?, ?, ?)`,
		rec.IsDisabled,
		nullable(rec.UseProxy),
		rec.APIKey,
		rec.Endpoint,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) SetEndpointDisabled(ctx context.Context, endpoint string, disabled bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE account_list SET is_disabled = ? WHERE lower(endpoint) = lower(?)`, disabled, endpoint)
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

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
