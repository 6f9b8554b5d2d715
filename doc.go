// Package framealloc provides a lock-free fixed-size frame allocator.
//
// An Allocator maps one anonymous, page-backed region, carves it into
// equal-sized frames and threads them onto a free list. Alloc and Free are
// lock-free: any number of goroutines may call them concurrently, and under
// contention they retry a compare-and-swap instead of blocking. There is no
// background goroutine, no growth and no resizing.
//
// # Quick Start
//
//	a, err := framealloc.New(200, 1024) // 1024 frames of 256 bytes (64-byte cache lines)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	frame, err := a.Alloc()
//	if errors.Is(err, framealloc.ErrOutOfMemory) {
//	    // every frame is in use: apply backpressure
//	}
//	copy(frame, payload)
//	a.Free(frame)
//
// # Frames
//
// Frame sizes are rounded up to CacheLineSize, so two frames never share a
// cache line. A frame returned by Alloc belongs to the caller until it is
// passed to Free; the allocator never reads or writes it in between. Once
// freed, a frame may be handed to another goroutine at once, so finish all
// writes to it before calling Free.
//
// # Errors
//
// Running out of frames, or failing to obtain the region, returns an error
// wrapping ErrOutOfMemory. Programmer errors (non-positive sizes, freeing a
// slice that is not a frame of this allocator, freeing after Close) panic.
// Double frees and use after free are not detected.
//
// # Memory Budget
//
// WithMemoryAcquirer charges the region size against a shared budget such as
// resource.Controller before mapping, and Close gives it back.
//
// # Observability
//
// Stats and Counts expose advisory counters. WithLogger attaches a slog-based
// Logger; WithMetricsCollector attaches a MetricsCollector that sees every
// allocation and free.
package framealloc
