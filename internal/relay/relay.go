// Package relay runs the retry loop of a client request: pick an account,
// dispatch, and on upstream failure try again elsewhere until the retry
// budget is spent.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/ledger"
	"github.com/Anivie/gpt-cat/internal/openai"
	"github.com/Anivie/gpt-cat/internal/pool"
	"github.com/Anivie/gpt-cat/internal/responder"
	"github.com/Anivie/gpt-cat/internal/sender"
)

// Selector hands out account slots.
type Selector interface {
	Acquire(ctx context.Context, match func(*account.Account) bool) (*pool.Lease, error)
}

// Dispatcher makes one upstream attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, acct *account.Account, call responder.Call, s *sender.Sender) error
}

// Models answers model availability and naming per endpoint.
type Models interface {
	Supports(endpoint, model string) bool
	Upstream(endpoint, model string) string
}

// Observer receives per-attempt measurements.
type Observer interface {
	SlotWaited(d time.Duration)
	AttemptFinished(endpoint string, outcome string, took time.Duration)
}

// Attempt outcomes reported to the Observer.
const (
	AttemptSuccess     = "success"
	AttemptRetryable   = "request_error"
	AttemptClientGone  = "response_error"
	AttemptNoAccount   = "no_account"
	defaultRetryBudget = 3
)

// Orchestrator is shared by all requests. Models and Retries are read per
// request so that configuration reloads apply to the next request.
type Orchestrator struct {
	Pool       Selector
	Dispatcher Dispatcher
	Models     func() Models
	Retries    func() int
	Ledger     ledger.Store
	Observer   Observer
	Logger     *log.Logger
}

// Result summarizes a finished request.
type Result struct {
	Outcome  ledger.Outcome
	Attempts int
	// Account served the last attempt; nil when none was acquired.
	Account *account.Account
	Err     error
}

// Serve relays req, writing the answer or the consolidated error to s. The
// caller closes s afterwards.
func (o *Orchestrator) Serve(ctx context.Context, req openai.ChatCompletionRequest, raw []byte, s *sender.Sender) Result {
	res := o.serve(ctx, req, raw, s)
	o.record(ctx, req, s, res)
	return res
}

func (o *Orchestrator) serve(ctx context.Context, req openai.ChatCompletionRequest, raw []byte, s *sender.Sender) Result {
	budget := defaultRetryBudget
	if o.Retries != nil {
		if n := o.Retries(); n > 0 {
			budget = n
		}
	}
	var models Models
	if o.Models != nil {
		models = o.Models()
	}
	match := func(a *account.Account) bool {
		return models == nil || models.Supports(a.Upstream.Name, req.Model)
	}

	var res Result
	for attempt := 1; attempt <= budget; attempt++ {
		lease, err := o.Pool.Acquire(ctx, match)
		if err != nil {
			if errors.Is(err, pool.ErrNoAvailableAccount) {
				o.observe(AttemptNoAccount, "", 0)
				o.logf("no account serves model %q", req.Model)
				s.AppendError(sender.ResponsiveError{
					Component:  "account pool",
					Reason:     "no available account",
					Message:    fmt.Sprintf("no enabled account serves model %q", req.Model),
					Suggestion: "check models.yaml and that accounts for the endpoint are enabled",
				})
				res.Outcome = ledger.OutcomeNoAccount
				res.Err = err
				return o.finishWithError(s, res)
			}
			res.Outcome = ledger.OutcomeClientGone
			res.Err = err
			return res
		}
		if o.Observer != nil {
			o.Observer.SlotWaited(lease.Waited)
		}

		acct := lease.Account
		res.Account = acct
		res.Attempts = attempt
		call := responder.Call{Request: req, Raw: raw, Model: req.Model}
		if models != nil {
			call.Model = models.Upstream(acct.Upstream.Name, req.Model)
		}

		s.ResetAttempt()
		started := time.Now()
		err = o.Dispatcher.Dispatch(ctx, acct, call, s)
		lease.Release()

		var reqErr *responder.RequestError
		var respErr *responder.ResponseError
		switch {
		case err == nil:
			o.observe(AttemptSuccess, acct.Upstream.Name, time.Since(started))
			res.Outcome = ledger.OutcomeSuccess
			res.Err = nil
			return res
		case errors.As(err, &respErr):
			o.observe(AttemptClientGone, acct.Upstream.Name, time.Since(started))
			o.logf("request %s: client went away during attempt %d: %v", s.RequestID(), attempt, err)
			res.Outcome = ledger.OutcomeClientGone
			res.Err = err
			return res
		case errors.As(err, &reqErr):
			s.AppendError(reqErr.Responsive())
		default:
			s.AppendError(sender.ResponsiveError{
				Component: acct.Upstream.Name,
				Reason:    "dispatch",
				Message:   err.Error(),
			})
		}
		o.observe(AttemptRetryable, acct.Upstream.Name, time.Since(started))
		o.logf("request %s: attempt %d/%d on account %d (%s) failed: %v",
			s.RequestID(), attempt, budget, acct.ID, acct.Upstream.Name, err)
		res.Err = err
	}
	res.Outcome = ledger.OutcomeFailed
	return o.finishWithError(s, res)
}

func (o *Orchestrator) finishWithError(s *sender.Sender, res Result) Result {
	if err := s.SendError(); err != nil {
		res.Outcome = ledger.OutcomeClientGone
		res.Err = err
	}
	return res
}

func (o *Orchestrator) record(ctx context.Context, req openai.ChatCompletionRequest, s *sender.Sender, res Result) {
	if o.Ledger == nil {
		return
	}
	usage := s.Usage()
	entry := ledger.Entry{
		RequestID:        s.RequestID(),
		Model:            req.Model,
		Stream:           req.Stream,
		Attempts:         res.Attempts,
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
		Outcome:          res.Outcome,
		CreatedAt:        time.Now().UTC(),
	}
	if res.Outcome == ledger.OutcomeSuccess {
		entry.OutputChars = int64(len([]rune(s.Text())))
	}
	if res.Account != nil {
		entry.AccountID = res.Account.ID
		entry.Endpoint = res.Account.Upstream.Name
	}
	if err := o.Ledger.Record(context.WithoutCancel(ctx), entry); err != nil {
		o.logf("request %s: ledger: %v", s.RequestID(), err)
	}
}

func (o *Orchestrator) observe(outcome, endpoint string, took time.Duration) {
	if o.Observer != nil {
		o.Observer.AttemptFinished(endpoint, outcome, took)
	}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}
