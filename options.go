package framealloc

import (
	"context"
	"time"
)

// DefaultAcquireTimeout bounds how long New waits on a memory budget when the
// caller's context carries no deadline.
const DefaultAcquireTimeout = 100 * time.Millisecond

// MemoryAcquirer reserves region memory against a shared budget.
// *resource.Controller implements it.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, bytes int64) error
	ReleaseMemory(bytes int64)
}

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	acquirer         MemoryAcquirer
	acquireTimeout   time.Duration
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		acquireTimeout:   DefaultAcquireTimeout,
	}
}

// Option configures an Allocator.
type Option func(*options)

// WithLogger sets the structured logger.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
//
// The collector is called on every Alloc and Free; keep it cheap.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithMemoryAcquirer makes New reserve the region size from a shared budget
// before mapping, and Close release it.
//
// Example:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
//	a, err := framealloc.New(512, 4096, framealloc.WithMemoryAcquirer(rc))
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(o *options) {
		o.acquirer = acquirer
	}
}

// WithAcquireTimeout overrides DefaultAcquireTimeout.
// A non-positive value makes New wait as long as its context allows.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		o.acquireTimeout = d
	}
}

// reserve charges bytes against the memory budget, if any.
func (o *options) reserve(ctx context.Context, bytes int) error {
	if o.acquirer == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && o.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.acquireTimeout)
		defer cancel()
	}
	return o.acquirer.AcquireMemory(ctx, int64(bytes))
}

func (o *options) release(bytes int) {
	if o.acquirer == nil {
		return
	}
	o.acquirer.ReleaseMemory(int64(bytes))
}
