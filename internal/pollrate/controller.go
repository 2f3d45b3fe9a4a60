// Package pollrate decides how long the spool loop sleeps between cycles.
//
// The controller idles at a base interval. When new inbox arrivals are seen,
// TriggerBurst switches it to a faster burst interval for a fixed number of
// reads, after which it relaxes back to base on its own.
package pollrate

import (
	"context"
	"sync"
	"time"
)

// DefaultBudget is the number of burst reads granted per trigger.
const DefaultBudget = 10

// Controller tracks the current poll interval. It is safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	base      time.Duration
	burst     time.Duration
	budget    int
	remaining int
	bursting  bool
}

// New returns a controller that starts at base. A non-positive budget falls
// back to DefaultBudget.
func New(base, burst time.Duration, budget int) *Controller {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Controller{
		base:      base,
		burst:     burst,
		budget:    budget,
		remaining: budget,
	}
}

// TriggerBurst switches to the burst interval and restores the full countdown.
func (c *Controller) TriggerBurst() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bursting = true
	c.remaining = c.budget
}

// Interval returns the interval for the next sleep. Each read while bursting
// consumes one unit of the countdown; once it is exhausted the controller
// reverts to base and that read already returns base.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bursting {
		return c.base
	}
	if c.remaining < 1 {
		c.bursting = false
		c.remaining = c.budget
		return c.base
	}
	c.remaining--
	return c.burst
}

// Peek reports the interval the controller is currently set to without
// consuming the countdown.
func (c *Controller) Peek() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bursting {
		return c.burst
	}
	return c.base
}

// Wait sleeps for Interval() or until ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
