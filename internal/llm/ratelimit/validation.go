package ratelimit

import "fmt"

// normalize applies defaults and rejects limits that could never admit a
// request. A zero window or zero budget would otherwise queue callers forever.
func (c Config) normalize() (Config, error) {
	if c.Window < minWindow {
		return c, fmt.Errorf("%w: window must be at least %s (got %s)", ErrInvalidConfig, minWindow, c.Window)
	}
	if c.MaxRequests <= 0 {
		return c, fmt.Errorf("%w: max requests must be positive (got %d)", ErrInvalidConfig, c.MaxRequests)
	}
	if c.PauseThreshold < 0 || c.PauseThreshold > 1 {
		return c, fmt.Errorf("%w: pause threshold must be within [0,1] (got %g)", ErrInvalidConfig, c.PauseThreshold)
	}
	if c.SweepInterval < 0 || c.QueueBuffer < 0 {
		return c, fmt.Errorf("%w: sweep interval and queue buffer cannot be negative", ErrInvalidConfig)
	}

	if c.PauseThreshold == 0 {
		c.PauseThreshold = DefaultPauseThreshold
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.QueueBuffer == 0 {
		c.QueueBuffer = DefaultQueueBuffer
	}
	return c, nil
}
