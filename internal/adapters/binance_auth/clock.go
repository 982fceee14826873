package binance_auth

import (
	"sync"
	"time"
)

// Clock returns local time corrected by the last measured offset to the
// exchange clock. Requests stamped too far from server time fail with
// -1021, so the CLI syncs once at startup when TIME_SYNC is on.
type Clock struct {
	mu         sync.RWMutex
	offset     time.Duration
	lastUpdate time.Time
	local      func() time.Time
}

func NewClock(local func() time.Time) *Clock {
	if local == nil {
		local = time.Now
	}
	return &Clock{local: local}
}

// Now is the corrected current time; safe to pass to WithClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local().Add(c.offset)
}

// Local returns the uncorrected time source.
func (c *Clock) Local() time.Time { return c.local() }

// Observe records a server-time sample. sent and received are the local
// times around the request; the server is assumed to have stamped the
// response halfway through the round trip.
func (c *Clock) Observe(sent, received, server time.Time) time.Duration {
	rtt := received.Sub(sent)
	midpoint := sent.Add(rtt / 2)
	offset := server.Sub(midpoint)

	c.mu.Lock()
	c.offset = offset
	c.lastUpdate = received
	c.mu.Unlock()
	return offset
}

func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func (c *Clock) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
