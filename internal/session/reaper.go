package session

import (
	"context"
	"time"
)

const reaperInterval = 5 * time.Minute

// StartReaper runs a background goroutine that periodically evicts idle
// session state. Streaming sessions are never evicted; everything an
// evicted session held is reloaded from the store on the user's next
// request.
func (c *Coordinator) StartReaper(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		c.logger.Info("session reaper started", "interval", reaperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := c.evictIdle(ttl); n > 0 {
					c.logger.Info("session reaper evicted idle sessions", "count", n)
				}
			case <-ctx.Done():
				c.logger.Info("session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// evictIdle removes sessions idle for longer than ttl and returns how many
// were evicted.
func (c *Coordinator) evictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for userID, sess := range c.sessions {
		sess.mu.Lock()
		idle := !sess.streaming && sess.lastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(c.sessions, userID)
			evicted++
		}
	}
	return evicted
}
