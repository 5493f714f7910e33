// Package account describes upstream credentials and the stores they are
// kept in.
package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/Anivie/gpt-cat/internal/endpoint"
)

// ErrNotFound is returned when no stored account matches a lookup.
var ErrNotFound = errors.New("account: not found")

// Record is one row of the account_list table.
type Record struct {
	ID         int64  `json:"id"`
	IsDisabled bool   `json:"is_disabled"`
	UseProxy   string `json:"use_proxy,omitempty"`
	APIKey     string `json:"-"`
	Endpoint   string `json:"endpoint"`
}

// Account is a stored record resolved into everything needed to call its
// upstream. Accounts are read-only once built.
type Account struct {
	Record
	Upstream endpoint.Endpoint
	Client   *http.Client
}

// Store persists account records.
type Store interface {
	// List returns every account ordered by id.
	List(ctx context.Context) ([]Record, error)
	// ListEnabled returns enabled accounts whose endpoint is one of
	// endpoints. Endpoint names match case-insensitively.
	ListEnabled(ctx context.Context, endpoints []string) ([]Record, error)
	Add(ctx context.Context, rec Record) (int64, error)
	// SetEndpointDisabled flips is_disabled for every account of an endpoint
	// and reports how many rows changed.
	SetEndpointDisabled(ctx context.Context, endpoint string, disabled bool) (int64, error)
	Close() error
}

// Masked returns the key with all but its last four characters hidden.
func (r Record) Masked() string {
	if len(r.APIKey) <= 4 {
		return "****"
	}
	return "****" + r.APIKey[len(r.APIKey)-4:]
}
