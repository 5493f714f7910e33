package pool

import "testing"

func TestCounterLockUnlock(t *testing.T) {
	c := NewCounter()
	if !c.Available() {
		t.Fatal("new counter should be available")
	}
	if !c.TryLock() {
		t.Fatal("TryLock on fresh counter failed")
	}
	if c.TryLock() {
		t.Fatal("second TryLock must fail")
	}
	if c.Available() {
		t.Fatal("locked counter reported available")
	}
	cd := c.cooldown()
	if cd < minCooldown || cd > maxCooldown {
		t.Fatalf("cooldown %d outside [%d,%d]", cd, minCooldown, maxCooldown)
	}
	c.Unlock()
	if c.Available() {
		t.Fatal("unlock must not restore availability")
	}
	if c.TryLock() {
		t.Fatal("TryLock during cooldown must fail")
	}
}

func TestCounterRefractoryPeriod(t *testing.T) {
	seen := make(map[int]bool)
	for run := 0; run < 500; run++ {
		c := NewCounter()
		if !c.TryLock() {
			t.Fatal("TryLock failed")
		}
		// ticks while busy do not count
		for i := 0; i < 20; i++ {
			if !c.Tick() {
				t.Fatal("locked counter must keep the ticker running")
			}
		}
		c.Unlock()

		ticks := 0
		for !c.Available() {
			c.Tick()
			ticks++
			if ticks > maxCooldown {
				t.Fatalf("run %d: still unavailable after %d ticks", run, ticks)
			}
		}
		if ticks < minCooldown {
			t.Fatalf("run %d: available after only %d ticks", run, ticks)
		}
		seen[ticks] = true
		if c.Tick() {
			t.Fatal("idle active counter should not need ticks")
		}
	}
	for n := minCooldown; n <= maxCooldown; n++ {
		if !seen[n] {
			t.Fatalf("cooldown of %d ticks never drawn in 500 runs", n)
		}
	}
}

func TestCounterUnlockIdempotent(t *testing.T) {
	c := NewCounter()
	c.Unlock()
	if !c.Available() {
		t.Fatal("Unlock on idle counter changed state")
	}
	c.TryLock()
	c.Unlock()
	c.Unlock()
	if c.Locked() {
		t.Fatal("counter still locked")
	}
}
