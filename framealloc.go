package framealloc

import (
	"context"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/hupe1980/framealloc/internal/assert"
	"github.com/hupe1980/framealloc/internal/conv"
	"github.com/hupe1980/framealloc/internal/freelist"
	"github.com/hupe1980/framealloc/internal/mmap"
)

// CacheLineSize is the granularity frame sizes are rounded up to.
const CacheLineSize = int(unsafe.Sizeof(cpu.CacheLinePad{}))

// Allocator hands out fixed-size frames carved from one anonymous mapping.
//
// Alloc and Free are lock-free and safe for concurrent use. New and Close
// are not: Close must run once every goroutine has stopped using the
// allocator and every frame it handed out.
type Allocator struct {
	free   *freelist.Stack
	region *mmap.Mapping
	data   []byte
	base   uintptr

	frameSize   int
	frameCount  int
	regionBytes int

	// Counters are advisory and each sits on its own cache line.
	_         cpu.CacheLinePad
	allocs    atomic.Uint64
	_         cpu.CacheLinePad
	frees     atomic.Uint64
	_         cpu.CacheLinePad
	exhausted atomic.Uint64
	closed    atomic.Bool

	opts options
}

// Stats is a point-in-time snapshot of allocator counters.
//
// Counters are read independently, so under concurrent traffic a snapshot
// may mix values from slightly different instants.
type Stats struct {
	FrameSize   int
	FrameCount  int
	RegionBytes int

	Allocs      uint64 // successful allocations
	Frees       uint64 // frames returned
	Outstanding uint64 // Allocs - Frees, clamped at zero
	Exhausted   uint64 // allocations refused because every frame was taken
	Retries     uint64 // compare-and-swap attempts lost to contention
	Generation  uint64 // head record generation
}

// FrameSizeFor returns the frame size New would use for frameBytes.
func FrameSizeFor(frameBytes int) (int, error) {
	size, err := conv.AlignUp(frameBytes, CacheLineSize)
	if err != nil {
		return 0, err
	}
	return max(size, freelist.LinkSize), nil
}

// New creates an allocator of frameCount frames that each hold at least
// frameBytes bytes. See NewContext.
func New(frameBytes, frameCount int, opts ...Option) (*Allocator, error) {
	return NewContext(context.Background(), frameBytes, frameCount, opts...)
}

// NewContext creates an allocator of frameCount frames that each hold at
// least frameBytes bytes.
//
// frameBytes is rounded up to CacheLineSize. The whole region is mapped at
// once and every frame starts out free. ctx only bounds the wait on a memory
// budget configured with WithMemoryAcquirer.
//
// Non-positive sizes are programmer errors and panic. Failure to reserve or
// map the region returns an error wrapping ErrOutOfMemory; nothing stays
// reserved or mapped on that path.
func NewContext(ctx context.Context, frameBytes, frameCount int, opts ...Option) (*Allocator, error) {
	assert.Argf(frameBytes > 0, "frame bytes must be positive, got %d", frameBytes)
	assert.Argf(frameCount > 0, "frame count must be positive, got %d", frameCount)

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	frameSize, err := FrameSizeFor(frameBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: frame size: %w", ErrInvalidGeometry, err)
	}
	if err := freelist.Validate(frameSize, frameCount); err != nil {
		return nil, translateError(err)
	}
	regionBytes, err := conv.MulInt(frameSize, frameCount)
	if err != nil {
		return nil, fmt.Errorf("%w: region size: %w", ErrInvalidGeometry, err)
	}

	o.logger = o.logger.WithFrameSize(frameSize)
	o.logger.LogCreate(ctx, frameCount)

	if err := o.reserve(ctx, regionBytes); err != nil {
		o.logger.LogReserveFailure(ctx, regionBytes, err)
		o.metricsCollector.RecordMap(regionBytes, err)
		return nil, fmt.Errorf("%w: reserve %d bytes: %w", ErrOutOfMemory, regionBytes, err)
	}

	region, err := mmap.MapAnon(regionBytes)
	if err != nil {
		o.release(regionBytes)
		o.logger.LogMapFailure(ctx, regionBytes, err)
		o.metricsCollector.RecordMap(regionBytes, err)
		return nil, fmt.Errorf("%w: map %d bytes: %w", ErrOutOfMemory, regionBytes, err)
	}

	data := region.Bytes()
	free, err := freelist.New(data, frameSize, frameCount)
	if err != nil {
		_ = region.Close()
		o.release(regionBytes)
		return nil, translateError(err)
	}

	o.metricsCollector.RecordMap(regionBytes, nil)

	return &Allocator{
		free:        free,
		region:      region,
		data:        data,
		base:        uintptr(unsafe.Pointer(unsafe.SliceData(data))),
		frameSize:   frameSize,
		frameCount:  frameCount,
		regionBytes: regionBytes,
		opts:        o,
	}, nil
}

// Close unmaps the region and releases its memory reservation.
//
// Close is idempotent. Frames obtained from the allocator must not be used
// afterwards. Closing with frames still outstanding, as far as the advisory
// counters tell, writes a warning report but is not an error.
func (a *Allocator) Close() error {
	assert.Arg(a != nil, "allocator must not be nil")

	if a.closed.Swap(true) {
		return nil
	}

	stats := a.Stats()
	if stats.Outstanding > 0 {
		assert.Warn(fmt.Sprintf("closing allocator with %d outstanding frames", stats.Outstanding))
	}

	err := a.region.Close()
	a.data = nil
	a.opts.release(a.regionBytes)

	a.opts.logger.LogClose(context.Background(), stats, err)
	a.opts.metricsCollector.RecordUnmap(a.regionBytes, err)

	if err != nil {
		return fmt.Errorf("framealloc: unmap %d bytes: %w", a.regionBytes, err)
	}
	return nil
}

// Alloc pops a frame off the free list.
//
// The returned slice has length and capacity FrameSize and belongs to the
// caller until it is passed to Free. Its contents are unspecified. Alloc
// returns ErrOutOfMemory when every frame is allocated and ErrClosed after
// Close; it never waits for a frame to be freed.
func (a *Allocator) Alloc() ([]byte, error) {
	assert.Arg(a != nil, "allocator must not be nil")

	if a.closed.Load() {
		return nil, ErrClosed
	}

	i, ok := a.free.Pop()
	if !ok {
		a.exhausted.Add(1)
		a.opts.logger.LogExhausted(context.Background(), a.frameCount)
		a.opts.metricsCollector.RecordAlloc(ErrOutOfMemory)
		return nil, ErrOutOfMemory
	}

	a.allocs.Add(1)
	a.opts.metricsCollector.RecordAlloc(nil)

	off := i * a.frameSize
	return a.data[off : off+a.frameSize : off+a.frameSize], nil
}

// Free pushes frame back onto the free list, where another goroutine may
// allocate it immediately. All writes to frame must be complete first.
//
// frame must have been returned by Alloc on this allocator and not freed
// since; reslicing it to a shorter length (frame[:0]) is fine. Freeing a nil
// or zero-capacity slice, a slice that does not start on a frame boundary of
// this allocator, or freeing after Close, panics. Double frees are not
// detected.
func (a *Allocator) Free(frame []byte) {
	assert.Arg(a != nil, "allocator must not be nil")
	assert.Arg(!a.closed.Load(), "free on closed allocator")

	i, ok := a.index(frame)
	if !ok {
		assert.Failf("frame %p (cap %d) does not belong to this allocator", unsafe.SliceData(frame), cap(frame))
	}

	a.free.Push(i)
	a.frees.Add(1)
	a.opts.metricsCollector.RecordFree()
}

// index maps a frame slice back to its frame number. Only the start of the
// backing array counts, so frame[:0] still identifies its frame.
func (a *Allocator) index(frame []byte) (int, bool) {
	if cap(frame) == 0 {
		return -1, false
	}
	p := uintptr(unsafe.Pointer(unsafe.SliceData(frame)))
	if p < a.base {
		return -1, false
	}
	off := p - a.base
	if off >= uintptr(a.regionBytes) || off%uintptr(a.frameSize) != 0 {
		return -1, false
	}
	return int(off / uintptr(a.frameSize)), true
}

// Owns reports whether frame starts on a frame boundary of this allocator.
// It says nothing about whether the frame is currently allocated.
func (a *Allocator) Owns(frame []byte) bool {
	if a == nil || a.closed.Load() {
		return false
	}
	_, ok := a.index(frame)
	return ok
}

// Index returns the frame number of frame, in [0, FrameCount), or false if
// frame does not start on a frame boundary of this allocator.
func (a *Allocator) Index(frame []byte) (int, bool) {
	if a == nil || a.closed.Load() {
		return -1, false
	}
	return a.index(frame)
}

// FrameSize returns the size of every frame in bytes, a multiple of CacheLineSize.
func (a *Allocator) FrameSize() int {
	assert.Arg(a != nil, "allocator must not be nil")
	return a.frameSize
}

// FrameCount returns the number of frames in the region.
func (a *Allocator) FrameCount() int {
	assert.Arg(a != nil, "allocator must not be nil")
	return a.frameCount
}

// RegionBytes returns the size of the backing region in bytes.
func (a *Allocator) RegionBytes() int {
	assert.Arg(a != nil, "allocator must not be nil")
	return a.regionBytes
}

// Counts returns the running totals of frees and successful allocations.
// They are advisory and may lag concurrent traffic.
func (a *Allocator) Counts() (frees, allocs uint64) {
	assert.Arg(a != nil, "allocator must not be nil")
	return a.frees.Load(), a.allocs.Load()
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	assert.Arg(a != nil, "allocator must not be nil")

	frees, allocs := a.Counts()
	var outstanding uint64
	if allocs > frees {
		outstanding = allocs - frees
	}

	return Stats{
		FrameSize:   a.frameSize,
		FrameCount:  a.frameCount,
		RegionBytes: a.regionBytes,
		Allocs:      allocs,
		Frees:       frees,
		Outstanding: outstanding,
		Exhausted:   a.exhausted.Load(),
		Retries:     a.free.Retries(),
		Generation:  a.free.Generation(),
	}
}

func (a *Allocator) String() string {
	s := a.Stats()
	return fmt.Sprintf(
		"Allocator{frames: %d, frame_size: %d, region: %.2f MB, allocs: %d, frees: %d, outstanding: %d, exhausted: %d, retries: %d}",
		s.FrameCount,
		s.FrameSize,
		float64(s.RegionBytes)/(1024*1024),
		s.Allocs,
		s.Frees,
		s.Outstanding,
		s.Exhausted,
		s.Retries,
	)
}
