// Package ledger keeps one usage record per relayed client request.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is how a relayed request ended.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeNoAccount  Outcome = "no_account"
	OutcomeClientGone Outcome = "client_gone"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeNoAccount, OutcomeClientGone:
		return true
	}
	return false
}

// Entry represents a single relayed request.
type Entry struct {
	ID        int64  `json:"id"`
	RequestID string `json:"request_id"`
	// AccountID is the account of the last attempt, zero when none was acquired.
	AccountID        int64     `json:"account_id"`
	Endpoint         string    `json:"endpoint"`
	Model            string    `json:"model"`
	Stream           bool      `json:"stream"`
	Attempts         int       `json:"attempts"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	OutputChars      int64     `json:"output_chars"`
	Outcome          Outcome   `json:"outcome"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate reports entries no store will accept.
func (e Entry) Validate() error {
	if e.RequestID == "" {
		return errors.New("ledger record requires request id")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", e.Outcome)
	}
	return nil
}

// Summary aggregates the usage of one account.
type Summary struct {
	Requests         int64 `json:"requests"`
	Succeeded        int64 `json:"succeeded"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	OutputChars      int64 `json:"output_chars"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, accountID int64) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
