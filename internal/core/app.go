// Package core wires configuration, stores, the account pool and the relay
// into one application value that is passed to every server component.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Anivie/gpt-cat/internal/account"
	accountpg "github.com/Anivie/gpt-cat/internal/account/postgres"
	accountsqlite "github.com/Anivie/gpt-cat/internal/account/sqlite"
	"github.com/Anivie/gpt-cat/internal/config"
	"github.com/Anivie/gpt-cat/internal/endpoint"
	"github.com/Anivie/gpt-cat/internal/ledger"
	"github.com/Anivie/gpt-cat/internal/ledger/async"
	ledgerpg "github.com/Anivie/gpt-cat/internal/ledger/postgres"
	ledgersqlite "github.com/Anivie/gpt-cat/internal/ledger/sqlite"
	"github.com/Anivie/gpt-cat/internal/metrics"
	"github.com/Anivie/gpt-cat/internal/pool"
	"github.com/Anivie/gpt-cat/internal/relay"
	"github.com/Anivie/gpt-cat/internal/responder"
	"github.com/Anivie/gpt-cat/internal/sender"
)

// App is the application context. It lives for the whole process.
type App struct {
	Runtime   *config.Runtime
	Endpoints *endpoint.Registry
	Accounts  account.Store
	Loader    *account.Loader
	Pool      *pool.Pool
	Relay     *relay.Orchestrator
	Ledger    ledger.Store
	Metrics   *metrics.Collector

	logger *log.Logger
}

// New opens the stores named by the current configuration and fills the
// pool. The caller must Close the app.
func New(ctx context.Context, rt *config.Runtime, logger *log.Logger) (*App, error) {
	cfg := rt.Gateway()
	endpoints, err := endpoint.NewRegistry(cfg.Endpoints, rt.Models().Aliases())
	if err != nil {
		return nil, fmt.Errorf("core: endpoints: %w", err)
	}
	accounts, err := OpenAccountStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	ledgerStore, err := OpenLedger(cfg.LedgerPath, logger)
	if err != nil {
		_ = accounts.Close()
		return nil, err
	}

	a := &App{
		Runtime:   rt,
		Endpoints: endpoints,
		Accounts:  accounts,
		Loader:    &account.Loader{Store: accounts, Endpoints: endpoints, Logger: logger},
		Ledger:    ledgerStore,
		logger:    logger,
	}
	a.Pool = pool.New(nil, pool.Options{Concurrency: cfg.Concurrency, ScanLimit: cfg.ScanLimit})
	a.Metrics = metrics.NewCollector(a.Pool)
	a.Relay = &relay.Orchestrator{
		Pool:       a.Pool,
		Dispatcher: &responder.Dispatcher{Logger: logger},
		Models:     func() relay.Models { return a.Runtime.Models() },
		Retries:    func() int { return a.Runtime.Gateway().Retries },
		Ledger:     ledgerStore,
		Observer:   a.Metrics,
		Logger:     logger,
	}
	if err := a.ReloadAccounts(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// OpenAccountStore picks PostgreSQL for postgres:// DSNs and SQLite for
// anything else, which is taken as a file path.
func OpenAccountStore(dsn string) (account.Store, error) {
	if isPostgres(dsn) {
		s, err := accountpg.New(dsn, 20, 5, 30)
		if err != nil {
			return nil, fmt.Errorf("core: account store: %w", err)
		}
		return s, nil
	}
	s, err := accountsqlite.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("core: account store: %w", err)
	}
	return s, nil
}

// OpenLedger opens the usage ledger behind an asynchronous batcher.
func OpenLedger(dsn string, logger *log.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	if isPostgres(dsn) {
		store, err = ledgerpg.New(dsn, 20, 5, 30, 10)
	} else {
		store, err = ledgersqlite.New(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("core: ledger: %w", err)
	}
	return async.New(store, async.Config{FlushInterval: 500 * time.Millisecond, Logger: logger}), nil
}

func isPostgres(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://")
}

// ReloadAccounts rebuilds the pool from the store with the current
// configuration.
func (a *App) ReloadAccounts(ctx context.Context) error {
	cfg := a.Runtime.Gateway()
	accts, err := a.Loader.Load(ctx, account.LoadOptions{Timeout: cfg.RequestTimeout, Proxies: cfg.Proxies})
	if err != nil {
		return err
	}
	a.Pool.Replace(accts)
	a.logf("account pool loaded with %d account(s)", len(accts))
	return nil
}

// Reload re-reads configuration and applies it. Snapshots that failed to
// parse keep their previous value; the rest still apply.
func (a *App) Reload(ctx context.Context) error {
	reloadErr := a.Runtime.Reload()
	cfg := a.Runtime.Gateway()
	if err := a.Endpoints.Reload(cfg.Endpoints, a.Runtime.Models().Aliases()); err != nil {
		reloadErr = errors.Join(reloadErr, err)
	}
	a.Pool.SetLimits(cfg.Concurrency, cfg.ScanLimit)
	if err := a.ReloadAccounts(ctx); err != nil {
		reloadErr = errors.Join(reloadErr, err)
	}
	return reloadErr
}

// SetEndpointEnabled flips every account of an endpoint in the store and
// applies the change to the live pool. Disabling removes the accounts at
// once; requests already holding their slots finish normally.
func (a *App) SetEndpointEnabled(ctx context.Context, name string, enabled bool) (int64, error) {
	ep, ok := a.Endpoints.Resolve(name)
	if !ok {
		return 0, fmt.Errorf("core: unknown endpoint %q", name)
	}
	n, err := a.Accounts.SetEndpointDisabled(ctx, ep.Name, !enabled)
	if err != nil {
		return 0, err
	}
	if enabled {
		return n, a.ReloadAccounts(ctx)
	}
	removed := a.Pool.Remove(func(acct *account.Account) bool {
		return strings.EqualFold(acct.Upstream.Name, ep.Name)
	})
	a.logf("endpoint %s disabled: %d account(s) removed from the pool", ep.Name, removed)
	return n, nil
}

// ListAccounts returns every stored account, enabled or not.
func (a *App) ListAccounts(ctx context.Context) ([]account.Record, error) {
	return a.Accounts.List(ctx)
}

// SenderOptions returns per-request sender settings from the current configuration.
func (a *App) SenderOptions() sender.Options {
	cfg := a.Runtime.Gateway()
	return sender.Options{Buffer: cfg.ClientBuffer, HeartbeatIdle: cfg.HeartbeatIdle}
}

// Run drives the pool until ctx ends.
func (a *App) Run(ctx context.Context) {
	a.Pool.Run(ctx)
}

// Close flushes the ledger and closes both stores.
func (a *App) Close() error {
	return errors.Join(a.Ledger.Close(), a.Accounts.Close())
}

func (a *App) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
