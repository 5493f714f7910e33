package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/Anivie/gpt-cat/internal/account"
)

// newStore opens a store in a throwaway schema of the database named by
// CATGATE_TEST_PG_DSN, skipping the test when it is unset.
func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CATGATE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("CATGATE_TEST_PG_DSN not set")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("CATGATE_TEST_PG_DSN must be a postgres:// URL: %v", err)
	}
	schema := fmt.Sprintf("catgate_accounts_%d", time.Now().UnixNano())
	admin, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = admin.Close() })
	if _, err := admin.Exec("CREATE SCHEMA " + schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { _, _ = admin.Exec("DROP SCHEMA " + schema + " CASCADE") })

	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	store, err := New(u.String(), 2, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEndpointFilter(t *testing.T) {
	v, err := endpointFilter([]string{"OpenAI", " QianWen "}).Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != `{"openai","qianwen"}` {
		t.Fatalf("unexpected array literal %v", v)
	}
}

func TestStoreRejectsBeforeQuerying(t *testing.T) {
	// No database behind the store: these paths must return before any query.
	store := &Store{}
	ctx := context.Background()
	if _, err := store.Add(ctx, account.Record{Endpoint: "OpenAI"}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := store.Add(ctx, account.Record{APIKey: "sk-a"}); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
	recs, err := store.ListEnabled(ctx, nil)
	if err != nil || recs != nil {
		t.Fatalf("expected nothing for empty endpoint filter, got %v %v", recs, err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, rec := range []account.Record{
		{APIKey: "sk-a", Endpoint: "OpenAI"},
		{APIKey: "sk-b", Endpoint: "QianWen", UseProxy: "hk"},
		{APIKey: "sk-c", Endpoint: "openai", IsDisabled: true},
	} {
		if _, err := store.Add(ctx, rec); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[1].UseProxy != "hk" || all[0].UseProxy != "" {
		t.Fatalf("unexpected accounts %+v", all)
	}

	enabled, err := store.ListEnabled(ctx, []string{"OPENAI", "qianwen"})
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 2 || enabled[0].APIKey != "sk-a" || enabled[1].APIKey != "sk-b" {
		t.Fatalf("unexpected enabled set %+v", enabled)
	}

	n, err := store.SetEndpointDisabled(ctx, "OpenAI", false)
	if err != nil || n != 2 {
		t.Fatalf("SetEndpointDisabled: n=%d err=%v", n, err)
	}
	if _, err := store.SetEndpointDisabled(ctx, "Nowhere", true); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
