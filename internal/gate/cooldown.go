package gate

import (
	"sync"
	"time"

	"plategate/internal/model"
)

// cooldown tracks the last automatic attempt per gate direction. An allowed
// call records the attempt timestamp.
type cooldown struct {
	mu   sync.Mutex
	last map[model.Direction]time.Time
}

func newCooldown() *cooldown {
	return &cooldown{last: make(map[model.Direction]time.Time)}
}

func (c *cooldown) allow(dir model.Direction, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[dir]; ok {
		if now.Sub(ts) < window {
			return false
		}
	}
	c.last[dir] = now
	return true
}
