package pool

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	minCooldown = 7
	maxCooldown = 10

	cooldownMask uint32 = 0xff
	activeBit    uint32 = 1 << 8
	lockedBit    uint32 = 1 << 9
)

// Counter is one unit of concurrency of an account.
//
// A locked counter is busy. After Unlock it stays unavailable until Tick
// has been called between 7 and 10 times, the count being drawn at lock
// time. The whole state lives in one atomic word: bits 0-7 hold the
// remaining cooldown, then the active and locked flags.
type Counter struct {
	state atomic.Uint32
}

func NewCounter() *Counter {
	c := &Counter{}
	c.state.Store(activeBit)
	return c
}

// TryLock takes the counter if it is available.
func (c *Counter) TryLock() bool {
	for {
		cur := c.state.Load()
		if cur&activeBit == 0 || cur&lockedBit != 0 {
			return false
		}
		next := lockedBit | uint32(minCooldown+rand.IntN(maxCooldown-minCooldown+1))
		if c.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Unlock marks the counter idle. It does not make it available.
func (c *Counter) Unlock() {
	for {
		cur := c.state.Load()
		if cur&lockedBit == 0 {
			return
		}
		if c.state.CompareAndSwap(cur, cur&^lockedBit) {
			return
		}
	}
}

// Tick advances an idle counter's cooldown by one step, activating it at
// zero. It reports whether the counter still needs ticks.
func (c *Counter) Tick() bool {
	for {
		cur := c.state.Load()
		if cur&lockedBit != 0 {
			return true
		}
		left := cur & cooldownMask
		if left == 0 {
			return false
		}
		left--
		next := left
		if left == 0 {
			next |= activeBit
		}
		if c.state.CompareAndSwap(cur, next) {
			return left > 0
		}
	}
}

// Available reports active and not locked.
func (c *Counter) Available() bool {
	s := c.state.Load()
	return s&activeBit != 0 && s&lockedBit == 0
}

func (c *Counter) Locked() bool {
	return c.state.Load()&lockedBit != 0
}

func (c *Counter) cooldown() int {
	return int(c.state.Load() & cooldownMask)
}
