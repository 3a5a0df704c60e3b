package notify

import (
	"sync"
	"time"
)

// Cooldown debounces user-originated actions: at most one action per user per
// period. It protects the chat channel and external APIs from bursts; it is
// not a correctness mechanism. The clock is injected so tests control time.
type Cooldown struct {
	period time.Duration
	now    func() time.Time

	mu    sync.Mutex
	until map[int64]time.Time
}

func NewCooldown(period time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{
		period: period,
		now:    now,
		until:  make(map[int64]time.Time),
	}
}

// Hit reports whether the user is still cooling down, and if not, starts a
// new cooldown window.
func (c *Cooldown) Hit(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if t, ok := c.until[userID]; ok && now.Before(t) {
		return true
	}
	c.until[userID] = now.Add(c.period)
	return false
}

// Evict drops entries whose window already passed. Called periodically by
// the scheduler so the map does not grow with every user ever seen.
func (c *Cooldown) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for id, t := range c.until {
		if t.Before(now) {
			delete(c.until, id)
			n++
		}
	}
	return n
}
