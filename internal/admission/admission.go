// Package admission implements the AdmissionController (spec.md §4.2): a
// joint count+byte-volume gate on concurrent job starts. The byte-volume
// accounting mirrors the mutex-protected running-total pattern in rclone's
// root accounting.go (Stats.bytes); the semaphore-plus-backoff loop follows
// spec.md §9's direction to replace raw sleep-loop polling with a bounded
// permit primitive for the count ceiling, falling back to additive backoff
// only while the byte ceiling is saturated.
package admission

import (
	"context"
	"sync"

	"github.com/boolpae/vrstt-dispatch/internal/retry"
)

// Controller gates job admission by count and, optionally, aggregate
// in-flight byte volume.
type Controller struct {
	mu           sync.Mutex
	countCeiling int
	byteCeiling  int64 // 0 means inactive
	inFlight     int
	inFlightBytes int64
	waiters      chan struct{} // buffered permit channel sized to countCeiling
}

// DefaultCountCeiling is spec.md §4.2's default when not scraped from the
// broker's reported worker count.
const DefaultCountCeiling = 12

// New constructs a Controller. byteCeiling of 0 disables byte-volume gating.
func New(countCeiling int, byteCeiling int64) *Controller {
	if countCeiling <= 0 {
		countCeiling = DefaultCountCeiling
	}
	c := &Controller{
		countCeiling: countCeiling,
		byteCeiling:  byteCeiling,
		waiters:      make(chan struct{}, countCeiling),
	}
	for i := 0; i < countCeiling; i++ {
		c.waiters <- struct{}{}
	}
	return c
}

// SetCountCeiling adjusts the count ceiling at runtime, e.g. when the broker
// reports a change in worker count (spec.md §4.2). Existing permits already
// issued are unaffected; the channel capacity is rebuilt to the new size.
func (c *Controller) SetCountCeiling(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n == c.countCeiling {
		return
	}
	delta := n - c.countCeiling
	c.countCeiling = n
	newCh := make(chan struct{}, n)
	for len(c.waiters) > 0 {
		<-c.waiters
		newCh <- struct{}{}
	}
	if delta > 0 {
		for i := 0; i < delta; i++ {
			newCh <- struct{}{}
		}
	}
	c.waiters = newCh
}

// Token is the handle returned by Acquire; callers must Release it on every
// exit path, including failures (spec.md §4.2: "use scoped acquisition").
type Token struct {
	c    *Controller
	size int64
}

// Acquire blocks until both the count and (if active) byte ceilings permit
// entry for a job of the given size, then admits it. The caller sleeps with
// additive back-off between checks rather than busy-polling.
func (c *Controller) Acquire(ctx context.Context, size int64) (*Token, error) {
	select {
	case <-c.waiters:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if c.byteCeiling > 0 {
		b := retry.NewAdmissionBackoff()
		for {
			c.mu.Lock()
			fits := c.inFlightBytes+size <= c.byteCeiling
			if fits {
				c.inFlightBytes += size
			}
			c.mu.Unlock()
			if fits {
				break
			}
			if err := b.Sleep(ctx); err != nil {
				c.waiters <- struct{}{} // give back the count permit
				return nil, err
			}
		}
	}

	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()

	return &Token{c: c, size: size}, nil
}

// Release frees the slots held by the token. Safe to call exactly once per
// Token; callers own enforcing that via defer at the acquisition site.
func (t *Token) Release() {
	t.c.mu.Lock()
	t.c.inFlight--
	if t.c.byteCeiling > 0 {
		t.c.inFlightBytes -= t.size
	}
	t.c.mu.Unlock()
	t.c.waiters <- struct{}{}
}

// InFlight reports the current admitted count (for telemetry/tests).
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// InFlightBytes reports the current admitted byte footprint.
func (c *Controller) InFlightBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlightBytes
}
