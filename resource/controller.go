package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation can never fit the limit,
// or when a non-blocking reservation does not fit right now.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for mapped region memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// OpsPerSecond paces operations admitted by AcquireOps.
	// If 0, unlimited.
	OpsPerSecond int64

	// OpsBurst is the token bucket size for AcquireOps.
	// If 0, defaults to OpsPerSecond.
	OpsBurst int
}

// Controller manages shared resources (memory, operation rate).
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Operations
	opsLimiter *rate.Limiter // nil if unlimited
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{
		cfg: cfg,
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.OpsPerSecond > 0 {
		burst := cfg.OpsBurst
		if burst <= 0 {
			burst = int(cfg.OpsPerSecond)
		}
		c.cfg.OpsBurst = burst
		c.opsLimiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}

	return c
}

// AcquireMemory reserves bytes of region memory.
// If a hard limit is configured and usage would exceed it,
// this blocks until memory is available or ctx is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if bytes > c.cfg.MemoryLimitBytes {
			return fmt.Errorf("%w: %d bytes requested, limit %d", ErrMemoryLimitExceeded, bytes, c.cfg.MemoryLimitBytes)
		}
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return fmt.Errorf("%w: %w", ErrMemoryLimitExceeded, err)
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory attempts to reserve memory without blocking.
// Returns ErrMemoryLimitExceeded if the limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current reserved memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireOps waits until the operation rate allows n more operations.
func (c *Controller) AcquireOps(ctx context.Context, n int) error {
	if c == nil || c.opsLimiter == nil {
		return nil
	}
	if n > c.cfg.OpsBurst {
		n = c.cfg.OpsBurst
	}
	return c.opsLimiter.WaitN(ctx, n)
}

// TryAcquireOps attempts to admit n operations without blocking.
func (c *Controller) TryAcquireOps(n int) bool {
	if c == nil || c.opsLimiter == nil {
		return true
	}
	return c.opsLimiter.AllowN(time.Now(), n)
}
