// Package pool load-balances requests over upstream accounts, allowing
// each account a fixed number of concurrent requests.
package pool

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anivie/gpt-cat/internal/account"
)

// ErrNoAvailableAccount means no pooled account serves the request at all,
// as opposed to every matching account being busy.
var ErrNoAvailableAccount = errors.New("pool: no available account")

const (
	defaultConcurrency = 10
	defaultScanLimit   = 30
	defaultBackoff     = time.Second
	defaultTick        = time.Second
)

// Options tunes a Pool. Zero values take defaults.
type Options struct {
	// Concurrency is the number of slots given to each account.
	Concurrency int
	// ScanLimit bounds consecutive scans that find no matching account.
	ScanLimit int
	// Backoff is the wait between scans while every matching slot is busy.
	Backoff time.Duration
	// TickInterval is the cooldown step of released slots.
	TickInterval time.Duration
}

type entry struct {
	acct  *account.Account
	slots []*Counter
}

// Pool is an ordered set of accounts, each with a fixed set of slots.
// Membership only ever changes by swapping the whole set.
type Pool struct {
	mu      sync.RWMutex
	entries []*entry

	concurrency  atomic.Int64
	scanLimit    atomic.Int64
	backoff      time.Duration
	tickInterval time.Duration

	wake  chan struct{}
	ticks atomic.Int64
	intn  func(int) int
}

func New(accounts []*account.Account, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = defaultScanLimit
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTick
	}
	p := &Pool{
		backoff:      opts.Backoff,
		tickInterval: opts.TickInterval,
		wake:         make(chan struct{}, 1),
		intn:         rand.IntN,
	}
	p.concurrency.Store(int64(opts.Concurrency))
	p.scanLimit.Store(int64(opts.ScanLimit))
	p.Replace(accounts)
	return p
}

// SetLimits updates tunables from reloaded configuration. A new
// concurrency applies to the next Replace.
func (p *Pool) SetLimits(concurrency, scanLimit int) {
	if concurrency > 0 {
		p.concurrency.Store(int64(concurrency))
	}
	if scanLimit > 0 {
		p.scanLimit.Store(int64(scanLimit))
	}
}

// Replace swaps in a new account set. Accounts already pooled keep their
// slots, busy and cooling ones first, resized to the current concurrency;
// new accounts get fresh slots. Duplicate account ids keep their first
// occurrence. Leases on previous accounts stay valid.
func (p *Pool) Replace(accounts []*account.Account) {
	n := int(p.concurrency.Load())
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := make(map[int64][]*Counter, len(p.entries))
	for _, e := range p.entries {
		prev[e.acct.ID] = e.slots
	}
	seen := make(map[int64]struct{}, len(accounts))
	next := make([]*entry, 0, len(accounts))
	for _, a := range accounts {
		if a == nil {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		next = append(next, &entry{acct: a, slots: carrySlots(prev[a.ID], n)})
	}
	p.entries = next
}

// carrySlots returns n counters, reusing old ones with unavailable counters
// kept ahead of available ones so a shrink drops idle slots first.
func carrySlots(old []*Counter, n int) []*Counter {
	slots := make([]*Counter, 0, n)
	for _, c := range old {
		if len(slots) < n && !c.Available() {
			slots = append(slots, c)
		}
	}
	for _, c := range old {
		if len(slots) < n && c.Available() {
			slots = append(slots, c)
		}
	}
	for len(slots) < n {
		slots = append(slots, NewCounter())
	}
	return slots
}

// Remove drops every account for which drop returns true, keeping the
// slots of the rest, and reports how many were removed.
func (p *Pool) Remove(drop func(*account.Account) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !drop(e.acct) {
			next = append(next, e)
		}
	}
	removed := len(p.entries) - len(next)
	p.entries = next
	return removed
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Accounts returns the current members in pool order.
func (p *Pool) Accounts() []*account.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*account.Account, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.acct
	}
	return out
}

// Acquire locks a free slot of an account accepted by match (nil accepts
// all). While matching accounts exist but are all busy it waits and
// rescans until ctx ends. When ScanLimit consecutive scans find no
// matching account it returns ErrNoAvailableAccount.
func (p *Pool) Acquire(ctx context.Context, match func(*account.Account) bool) (*Lease, error) {
	began := time.Now()
	misses := 0
	for {
		lease, eligible := p.scan(match)
		if lease != nil {
			lease.Waited = time.Since(began)
			return lease, nil
		}
		if !eligible {
			misses++
			if int64(misses) >= p.scanLimit.Load() {
				return nil, ErrNoAvailableAccount
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		misses = 0
		timer := time.NewTimer(p.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// scan makes one pass starting at a random account. eligible reports
// whether any account passed match.
func (p *Pool) scan(match func(*account.Account) bool) (lease *Lease, eligible bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.entries)
	if n == 0 {
		return nil, false
	}
	start := 0
	if n > 1 {
		start = p.intn(n)
	}
	for i := 0; i < n; i++ {
		e := p.entries[(start+i)%n]
		if match != nil && !match(e.acct) {
			continue
		}
		eligible = true
		for idx, c := range e.slots {
			if c.TryLock() {
				p.signal()
				return &Lease{Account: e.acct, Slot: idx, counter: c}, true
			}
		}
	}
	return nil, eligible
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drives slot cooldowns until ctx ends. It parks while no slot is busy
// or cooling and resumes on the next lock.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p.tick() {
			continue
		}
		ticker.Stop()
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
		ticker.Reset(p.tickInterval)
	}
}

// tick advances every slot once and reports whether any still needs ticks.
func (p *Pool) tick() bool {
	p.ticks.Add(1)
	p.mu.RLock()
	defer p.mu.RUnlock()
	pending := false
	for _, e := range p.entries {
		for _, c := range e.slots {
			if c.Tick() {
				pending = true
			}
		}
	}
	return pending
}

// AccountStats is a point-in-time view of one account's slots.
type AccountStats struct {
	ID        int64  `json:"id"`
	Endpoint  string `json:"endpoint"`
	Slots     int    `json:"slots"`
	Available int    `json:"available"`
	Busy      int    `json:"busy"`
}

func (p *Pool) Stats() []AccountStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AccountStats, 0, len(p.entries))
	for _, e := range p.entries {
		st := AccountStats{ID: e.acct.ID, Endpoint: e.acct.Upstream.Name, Slots: len(e.slots)}
		for _, c := range e.slots {
			switch {
			case c.Locked():
				st.Busy++
			case c.Available():
				st.Available++
			}
		}
		out = append(out, st)
	}
	return out
}

// Lease owns one locked slot until released.
type Lease struct {
	Account *account.Account
	Slot    int
	// Waited is the time spent in Acquire.
	Waited time.Duration

	counter *Counter
	once    sync.Once
}

// Release unlocks the slot; the slot then cools down before reuse. Extra
// calls are no-ops.
func (l *Lease) Release() {
	l.once.Do(l.counter.Unlock)
}
