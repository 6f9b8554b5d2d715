package framealloc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	preassert "github.com/hupe1980/framealloc/internal/assert"
	"github.com/hupe1980/framealloc/resource"
	"github.com/hupe1980/framealloc/testutil"
)

func TestMain(m *testing.M) {
	preassert.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newAllocator(t *testing.T, frameBytes, frameCount int, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(frameBytes, frameCount, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// requireViolation runs fn and returns the precondition violation it panicked with.
func requireViolation(t *testing.T, fn func()) *preassert.Violation {
	t.Helper()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()

	require.NotNil(t, recovered, "expected a precondition panic")
	v, ok := recovered.(*preassert.Violation)
	require.True(t, ok, "panic value %T is not a *assert.Violation", recovered)
	return v
}

func addr(frame []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(frame)))
}

func TestFrameSizeFor(t *testing.T) {
	tests := []struct {
		bytes int
		want  int
	}{
		{1, CacheLineSize},
		{CacheLineSize - 1, CacheLineSize},
		{CacheLineSize, CacheLineSize},
		{CacheLineSize + 1, 2 * CacheLineSize},
		{1000, ((1000 + CacheLineSize - 1) / CacheLineSize) * CacheLineSize},
	}

	for _, tt := range tests {
		got, err := FrameSizeFor(tt.bytes)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "bytes=%d", tt.bytes)
	}

	_, err := FrameSizeFor(math.MaxInt)
	assert.Error(t, err)
}

func TestNew_Geometry(t *testing.T) {
	a := newAllocator(t, 100, 10)

	assert.Equal(t, 10, a.FrameCount())
	assert.GreaterOrEqual(t, a.FrameSize(), 100)
	assert.Zero(t, a.FrameSize()%CacheLineSize)
	assert.Equal(t, a.FrameSize()*10, a.RegionBytes())
	assert.Zero(t, addr(a.data)%uintptr(CacheLineSize))
}

func TestNew_InvalidGeometry(t *testing.T) {
	t.Run("frame size overflow", func(t *testing.T) {
		_, err := New(math.MaxInt, 1)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})

	t.Run("region size overflow", func(t *testing.T) {
		_, err := New(math.MaxInt/2, 4)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})

	t.Run("too many frames", func(t *testing.T) {
		if strconv.IntSize < 64 {
			t.Skip("needs 64-bit int")
		}
		n := 1 << 20
		n <<= 21
		_, err := New(64, n)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})
}

func TestNew_Preconditions(t *testing.T) {
	tests := []struct {
		name       string
		frameBytes int
		frameCount int
	}{
		{"zero frame bytes", 0, 4},
		{"negative frame bytes", -1, 4},
		{"zero frame count", 64, 0},
		{"negative frame count", 64, -8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := requireViolation(t, func() {
				_, _ = New(tt.frameBytes, tt.frameCount)
			})
			assert.Equal(t, "framealloc.go", v.File)
			assert.Positive(t, v.Line)
		})
	}
}

func TestAlloc_Capacity(t *testing.T) {
	const n = 16
	a := newAllocator(t, 48, n)

	seen := make(map[uintptr]bool, n)
	for i := 0; i < n; i++ {
		frame, err := a.Alloc()
		require.NoError(t, err)
		assert.Len(t, frame, a.FrameSize())
		assert.Equal(t, a.FrameSize(), cap(frame))
		assert.False(t, seen[addr(frame)], "frame %d handed out twice", i)
		seen[addr(frame)] = true
	}

	_, err := a.Alloc()
	assert.ErrorIs(t, err, ErrOutOfMemory)

	s := a.Stats()
	assert.Equal(t, uint64(n), s.Allocs)
	assert.Equal(t, uint64(n), s.Outstanding)
	assert.Equal(t, uint64(1), s.Exhausted)
}

func TestAlloc_RoundTrip(t *testing.T) {
	a := newAllocator(t, 64, 4)

	frame, err := a.Alloc()
	require.NoError(t, err)

	for i := range frame {
		frame[i] = 0xAB
	}
	a.Free(frame)

	again, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, addr(frame), addr(again))

	frees, allocs := a.Counts()
	assert.Equal(t, uint64(1), frees)
	assert.Equal(t, uint64(2), allocs)
}

func TestAlloc_OneByteFourFrames(t *testing.T) {
	a := newAllocator(t, 1, 4)

	if CacheLineSize == 64 {
		assert.Equal(t, 64, a.FrameSize())
	}
	assert.Equal(t, CacheLineSize, a.FrameSize())

	frames := make([][]byte, 4)
	for i := range frames {
		var err error
		frames[i], err = a.Alloc()
		require.NoError(t, err)
	}

	// Frames come off the top of the list, highest address first.
	for i := 1; i < len(frames); i++ {
		assert.Equal(t, uintptr(a.FrameSize()), addr(frames[i-1])-addr(frames[i]))
	}
	assert.Equal(t, addr(a.data), addr(frames[3]))

	_, err := a.Alloc()
	require.ErrorIs(t, err, ErrOutOfMemory)

	a.Free(frames[2])

	again, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, addr(frames[2]), addr(again))
}

func TestAlloc_Conservation(t *testing.T) {
	const n = 32
	a := newAllocator(t, 64, n)
	rng := testutil.NewRNG(4711)

	var held [][]byte
	for step := 0; step < 5000; step++ {
		if len(held) > 0 && (len(held) == n || rng.Chance(0.5)) {
			i := rng.Intn(len(held))
			a.Free(held[i])
			held[i] = held[len(held)-1]
			held = held[:len(held)-1]
		} else {
			frame, err := a.Alloc()
			require.NoError(t, err)
			held = append(held, frame)
		}

		frees, allocs := a.Counts()
		require.Equal(t, uint64(len(held)), allocs-frees)
		require.Equal(t, n-len(held), a.free.Len())
	}

	testutil.Shuffle(rng, held)
	for _, f := range held {
		a.Free(f)
	}
	assert.Equal(t, n, a.free.Len())
	assert.Zero(t, a.Stats().Outstanding)
}

func TestAlloc_ConcurrentNoDuplicates(t *testing.T) {
	const (
		n       = 64
		workers = 8
		cycles  = 2000
	)
	a := newAllocator(t, 64, n)

	// owner[i] is 1 while some goroutine holds frame i.
	owner := make([]int32, n)
	var mu sync.Mutex
	var dupes int

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := 0; c < cycles; c++ {
				frame, err := a.Alloc()
				if errors.Is(err, ErrOutOfMemory) {
					runtime.Gosched()
					continue
				}
				i, ok := a.Index(frame)
				if !ok {
					panic("foreign frame")
				}

				mu.Lock()
				if owner[i] != 0 {
					dupes++
				}
				owner[i] = 1
				mu.Unlock()

				frame[len(frame)-1] = byte(c)

				mu.Lock()
				owner[i] = 0
				mu.Unlock()

				a.Free(frame)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, dupes)
	frees, allocs := a.Counts()
	assert.Equal(t, allocs, frees)
	assert.Equal(t, n, a.free.Len())
}

func TestAlloc_SingleFrameABA(t *testing.T) {
	const cycles = 20000
	a := newAllocator(t, 64, 1)

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := 0; c < cycles; c++ {
				frame, err := a.Alloc()
				if err != nil {
					continue
				}
				frame[8] = byte(w)
				a.Free(frame)
			}
		}()
	}
	wg.Wait()

	assert.False(t, a.free.Empty())
	frees, allocs := a.Counts()
	assert.Equal(t, allocs, frees)
	assert.Equal(t, 2*allocs, a.free.Generation())

	frame, err := a.Alloc()
	require.NoError(t, err)
	a.Free(frame)
}

func TestFree_Preconditions(t *testing.T) {
	a := newAllocator(t, 64, 4)
	frame, err := a.Alloc()
	require.NoError(t, err)

	t.Run("nil frame", func(t *testing.T) {
		requireViolation(t, func() { a.Free(nil) })
	})

	t.Run("zero-capacity frame", func(t *testing.T) {
		requireViolation(t, func() { a.Free(frame[:0:0]) })
	})

	t.Run("misaligned frame", func(t *testing.T) {
		requireViolation(t, func() { a.Free(frame[1:]) })
	})

	t.Run("foreign frame", func(t *testing.T) {
		v := requireViolation(t, func() { a.Free(make([]byte, 64)) })
		assert.Contains(t, v.Msg, "does not belong to this allocator")
	})

	t.Run("frame from another allocator", func(t *testing.T) {
		other := newAllocator(t, 64, 4)
		f, err := other.Alloc()
		require.NoError(t, err)
		requireViolation(t, func() { a.Free(f) })
	})

	t.Run("nil allocator", func(t *testing.T) {
		var nilAlloc *Allocator
		requireViolation(t, func() { nilAlloc.Free(frame) })
	})

	a.Free(frame)
}

func TestFree_ResliceToZeroLength(t *testing.T) {
	a := newAllocator(t, 64, 2)

	frame, err := a.Alloc()
	require.NoError(t, err)

	buf := frame[:0]
	buf = append(buf, "payload"...)
	assert.Equal(t, addr(frame), addr(buf))

	a.Free(frame[:0])
	assert.Zero(t, a.Stats().Outstanding)

	again, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, addr(frame), addr(again))
	a.Free(again)
}

func TestOwnsAndIndex(t *testing.T) {
	a := newAllocator(t, 64, 4)
	frame, err := a.Alloc()
	require.NoError(t, err)

	assert.True(t, a.Owns(frame))
	i, ok := a.Index(frame)
	assert.True(t, ok)
	assert.Equal(t, 3, i)

	assert.True(t, a.Owns(frame[:0]))
	i, ok = a.Index(frame[:0])
	assert.True(t, ok)
	assert.Equal(t, 3, i)

	assert.False(t, a.Owns(frame[:0:0]))
	assert.False(t, a.Owns(frame[1:]))
	assert.False(t, a.Owns(nil))
	assert.False(t, a.Owns(make([]byte, 64)))

	_, ok = a.Index(frame[8:])
	assert.False(t, ok)

	var nilAlloc *Allocator
	assert.False(t, nilAlloc.Owns(frame))
}

func TestClose(t *testing.T) {
	mc := &BasicMetricsCollector{}
	a, err := New(64, 4, WithMetricsCollector(mc))
	require.NoError(t, err)

	frame, err := a.Alloc()
	require.NoError(t, err)
	a.Free(frame)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.Alloc()
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, a.Owns(frame))

	requireViolation(t, func() { a.Free(frame) })

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.MapCount)
	assert.Equal(t, int64(1), stats.UnmapCount)
	assert.Zero(t, stats.MappedBytes)
}

func TestWithMemoryAcquirer(t *testing.T) {
	t.Run("request above limit", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: int64(4*CacheLineSize - 1)})

		_, err := New(CacheLineSize, 4, WithMemoryAcquirer(rc))
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
		assert.Zero(t, rc.MemoryUsage())
	})

	t.Run("budget shared and released", func(t *testing.T) {
		region := int64(4 * CacheLineSize)
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 2 * region})

		a1, err := New(CacheLineSize, 4, WithMemoryAcquirer(rc))
		require.NoError(t, err)
		a2, err := New(CacheLineSize, 4, WithMemoryAcquirer(rc))
		require.NoError(t, err)
		defer a2.Close()
		assert.Equal(t, 2*region, rc.MemoryUsage())

		_, err = New(CacheLineSize, 4, WithMemoryAcquirer(rc), WithAcquireTimeout(10*time.Millisecond))
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, a1.Close())
		assert.Equal(t, region, rc.MemoryUsage())

		a3, err := New(CacheLineSize, 4, WithMemoryAcquirer(rc))
		require.NoError(t, err)
		require.NoError(t, a3.Close())
	})

	t.Run("caller context", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: int64(CacheLineSize)})
		a, err := New(CacheLineSize, 1, WithMemoryAcquirer(rc))
		require.NoError(t, err)
		defer a.Close()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err = NewContext(ctx, CacheLineSize, 1, WithMemoryAcquirer(rc))
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNew_MapFailure(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("needs 64-bit int")
	}

	// 1 PiB: within the budget, beyond any address space mmap will grant.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 50})
	mc := &BasicMetricsCollector{}
	var buf bytes.Buffer

	_, err := New(1<<30, 1<<20,
		WithMemoryAcquirer(rc),
		WithMetricsCollector(mc),
		WithLogger(newBufferLogger(&buf)),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	assert.Zero(t, rc.MemoryUsage())

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.MapCount)
	assert.Equal(t, int64(1), stats.MapErrors)
	assert.Zero(t, stats.MappedBytes)

	assert.Contains(t, buf.String(), "could not allocate region pages")
}

func TestStats(t *testing.T) {
	a := newAllocator(t, 64, 2)

	f1, err := a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	require.ErrorIs(t, err, ErrOutOfMemory)
	a.Free(f1)

	s := a.Stats()
	assert.Equal(t, 2, s.FrameCount)
	assert.Equal(t, uint64(2), s.Allocs)
	assert.Equal(t, uint64(1), s.Frees)
	assert.Equal(t, uint64(1), s.Outstanding)
	assert.Equal(t, uint64(1), s.Exhausted)
	assert.Equal(t, uint64(3), s.Generation)

	assert.Contains(t, a.String(), "frames: 2")
	assert.Contains(t, a.String(), "outstanding: 1")
}
