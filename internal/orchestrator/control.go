package orchestrator

import (
	"context"
	"sync"
)

// Control is the pause/resume/stop switch of one run. It is process-local.
type Control struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	resume  chan struct{}
	stop    chan struct{}
}

// NewControl creates a running control.
func NewControl() *Control {
	return &Control{stop: make(chan struct{})}
}

// Pause asks the run to hold before its next container starts.
func (c *Control) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrAlreadyStopped
	}
	if c.paused {
		return ErrAlreadyPaused
	}
	c.paused = true
	c.resume = make(chan struct{})
	return nil
}

// Resume releases a paused run.
func (c *Control) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrAlreadyStopped
	}
	if !c.paused {
		return ErrNotPaused
	}
	c.paused = false
	close(c.resume)
	return nil
}

// Stop prevents any further container from starting. A paused run is
// released so it can finish as cancelled.
func (c *Control) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrAlreadyStopped
	}
	c.stopped = true
	close(c.stop)
	return nil
}

// IsPaused reports whether a pause is pending or in effect.
func (c *Control) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// IsStopped reports whether Stop was called.
func (c *Control) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Gate blocks while the run is paused. It returns ErrStopped once the run is
// stopped, or the context error if ctx ends first.
func (c *Control) Gate(ctx context.Context) error {
	for {
		c.mu.Lock()
		stopped, paused, resume := c.stopped, c.paused, c.resume
		c.mu.Unlock()

		if stopped {
			return ErrStopped
		}
		if !paused {
			return ctx.Err()
		}
		select {
		case <-resume:
		case <-c.stop:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
