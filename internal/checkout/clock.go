// Package checkout reconciles a customer's checkout view against the
// backend-owned checkout session: it counts down the session expiry, requests
// payment preferences, polls the authoritative state and interprets the
// redirects coming back from the payment gateway.
package checkout

import (
	"sync"
	"time"
)

// Clock counts down to an absolute expiry instant.
//
// Remaining is refreshed once per tick and never goes negative. Expired is
// closed exactly once, on the first tick that observes the expiry.
type Clock struct {
	expiresAt time.Time
	now       func() time.Time

	mu        sync.RWMutex
	remaining int64

	expired    chan struct{}
	expireOnce sync.Once
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

// ClockOptions tunes a Clock. Zero values fall back to a one second tick and time.Now.
type ClockOptions struct {
	Tick time.Duration
	Now  func() time.Time
}

// NewClock starts a countdown to expiresAt.
func NewClock(expiresAt time.Time, opts ClockOptions) *Clock {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Clock{
		expiresAt: expiresAt,
		now:       opts.Now,
		expired:   make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.remaining = secondsUntil(expiresAt, c.now())
	go c.run(opts.Tick)
	return c
}

func (c *Clock) run(tick time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick refreshes the remaining time and reports whether the clock reached zero.
func (c *Clock) tick() bool {
	left := c.expiresAt.Sub(c.now())
	if left <= 0 {
		c.mu.Lock()
		c.remaining = 0
		c.mu.Unlock()
		c.expireOnce.Do(func() { close(c.expired) })
		return true
	}
	c.mu.Lock()
	c.remaining = int64(left / time.Second)
	c.mu.Unlock()
	return false
}

// Remaining returns the whole seconds left, never negative.
func (c *Clock) Remaining() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remaining
}

// ExpiresAt returns the instant the clock counts down to.
func (c *Clock) ExpiresAt() time.Time {
	return c.expiresAt
}

// Expired is closed when the countdown reaches zero. It is never closed if the
// clock is stopped first.
func (c *Clock) Expired() <-chan struct{} {
	return c.expired
}

// Stop cancels the countdown. Safe to call any number of times.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the ticking goroutine has exited.
func (c *Clock) Done() <-chan struct{} {
	return c.done
}

func secondsUntil(expiresAt, now time.Time) int64 {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}
