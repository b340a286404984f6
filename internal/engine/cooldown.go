package engine

import (
	"sync"
	"time"
)

// Cooldown rate-limits alerts per key, e.g. one zone or one location.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}

func zoneKey(cameraID, zoneID string) string {
	return "zone|" + cameraID + "|" + zoneID
}

func locationKey(locationID string) string {
	return "location|" + locationID
}
