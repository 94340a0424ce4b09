package risk

import (
	"sync"
	"time"

	"spot-hedger/internal/models"
)

// Cooldown suppresses repeated emission of the same breach within a window
// measured from its previous emission. It is safe for concurrent use.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown creates a cooldown tracker. A non-positive window disables
// suppression.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Ready reports whether b may be emitted at now. It does not record
// anything.
func (c *Cooldown) Ready(b models.Breach, now time.Time) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked(b.Key(), now)
}

// Record marks b as emitted at at, starting a new window.
func (c *Cooldown) Record(b models.Breach, at time.Time) {
	if c.window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[b.Key()] = at
}

// Allow reports whether b may be emitted at now and, if so, records the
// emission.
func (c *Cooldown) Allow(b models.Breach, now time.Time) bool {
	if c.window <= 0 {
		return true
	}

	key := b.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked(key, now) {
		return false
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) readyLocked(key string, now time.Time) bool {
	prev, ok := c.last[key]
	return !ok || now.Sub(prev) >= c.window
}

// Filter returns the breaches that are ready at now, preserving order,
// and the number suppressed. Nothing is recorded; callers Record a breach
// once it has actually been handed off.
func (c *Cooldown) Filter(breaches []models.Breach, now time.Time) ([]models.Breach, int) {
	allowed := breaches[:0:0]
	for _, b := range breaches {
		if c.Ready(b, now) {
			allowed = append(allowed, b)
		}
	}
	return allowed, len(breaches) - len(allowed)
}

// Prune forgets emissions older than the window.
func (c *Cooldown) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
