// Package resource implements a shared budget for frame allocator regions.
//
// A Controller governs two resources:
//
//   - Memory: bytes of region mappings held by allocators (weighted semaphore)
//   - Operations: a token bucket pacing allocate/free traffic in load tools
//
// # Memory Management
//
// An allocator reserves its whole region before mapping it and releases the
// reservation when it is closed:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB across all allocators
//	})
//
//	a, err := framealloc.New(256, 1<<20, framealloc.WithMemoryAcquirer(rc))
//	if errors.Is(err, framealloc.ErrOutOfMemory) {
//	    // budget exhausted
//	}
//
// # Thread Safety
//
// All Controller methods are safe for concurrent use.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
