package freelist

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	// LinkSize is the number of bytes a free frame must reserve for its link.
	LinkSize = int(unsafe.Sizeof(uint64(0)))

	// MaxIndexBits bounds the index field, leaving at least 24 generation bits.
	MaxIndexBits = 40
)

var (
	// ErrTooManyFrames is returned when the frame count does not leave enough generation bits.
	ErrTooManyFrames = errors.New("freelist: too many frames")
	// ErrInvalidGeometry is returned when the region cannot hold the requested frames.
	ErrInvalidGeometry = errors.New("freelist: invalid geometry")
)

// Stack is a lock-free LIFO of frame indices over a caller-owned region.
//
// The head and the retry counter each sit on their own cache line.
type Stack struct {
	_    cpu.CacheLinePad
	head atomic.Uint64
	_    cpu.CacheLinePad

	retries atomic.Uint64
	_       cpu.CacheLinePad

	base      unsafe.Pointer
	stride    uintptr
	n         int
	indexBits uint
	indexMask uint64
}

// New threads n frames of stride bytes starting at region[0] into a stack.
// Every frame starts out free. The region must stay valid for the life of the
// Stack and must be at least 8-byte aligned.
func New(region []byte, stride, n int) (*Stack, error) {
	if err := Validate(stride, n); err != nil {
		return nil, err
	}
	if len(region)/stride < n {
		return nil, fmt.Errorf("%w: region of %d bytes holds fewer than %d frames of %d bytes",
			ErrInvalidGeometry, len(region), n, stride)
	}

	indexBits := uint(bits.Len64(uint64(n)))
	s := &Stack{
		base:      unsafe.Pointer(unsafe.SliceData(region)),
		stride:    uintptr(stride),
		n:         n,
		indexBits: indexBits,
		indexMask: 1<<indexBits - 1,
	}
	s.init()
	return s, nil
}

// Validate reports whether n frames of stride bytes can be managed by a Stack.
func Validate(stride, n int) error {
	if n <= 0 || stride < LinkSize || stride%LinkSize != 0 {
		return fmt.Errorf("%w: %d frames of %d bytes", ErrInvalidGeometry, n, stride)
	}
	if indexBits := bits.Len64(uint64(n)); indexBits > MaxIndexBits {
		return fmt.Errorf("%w: %d frames need %d index bits (max %d)", ErrTooManyFrames, n, indexBits, MaxIndexBits)
	}
	return nil
}

// init prepends every frame in address order. It runs before the Stack is
// published, so plain stores would do; atomics keep the race detector quiet.
func (s *Stack) init() {
	var top uint64
	for i := 0; i < s.n; i++ {
		atomic.StoreUint64(s.link(i), top)
		top = uint64(i) + 1
	}
	s.head.Store(top)
}

func (s *Stack) link(i int) *uint64 {
	return (*uint64)(unsafe.Add(s.base, uintptr(i)*s.stride))
}

// next returns the head that follows old with the given top.
func (s *Stack) next(old, top uint64) uint64 {
	gen := old >> s.indexBits
	return (gen+1)<<s.indexBits | top&s.indexMask
}

// Pop removes the top frame and returns its index, or false if the stack is empty.
func (s *Stack) Pop() (int, bool) {
	old := s.head.Load()
	for {
		top := old & s.indexMask
		if top == 0 {
			return -1, false
		}

		// May be stale if top was popped meanwhile; the CAS below rejects it.
		link := atomic.LoadUint64(s.link(int(top - 1)))

		if s.head.CompareAndSwap(old, s.next(old, link)) {
			return int(top - 1), true
		}
		s.retries.Add(1)
		old = s.head.Load()
	}
}

// Push returns frame i to the stack. i must come from Pop on this Stack and
// must not already be on it.
func (s *Stack) Push(i int) {
	node := uint64(i) + 1
	link := s.link(i)

	old := s.head.Load()
	for {
		// Publish the link before the head that makes it reachable.
		atomic.StoreUint64(link, old&s.indexMask)

		if s.head.CompareAndSwap(old, s.next(old, node)) {
			return
		}
		s.retries.Add(1)
		old = s.head.Load()
	}
}

// Empty reports whether the stack held no frames at the instant of the load.
func (s *Stack) Empty() bool {
	return s.head.Load()&s.indexMask == 0
}

// Generation returns the current generation. It wraps silently.
func (s *Stack) Generation() uint64 {
	return s.head.Load() >> s.indexBits
}

// Retries returns the number of failed compare-and-swap attempts so far.
func (s *Stack) Retries() uint64 {
	return s.retries.Load()
}

// Cap returns the number of frames managed by the stack.
func (s *Stack) Cap() int {
	return s.n
}

// IndexBits returns the width of the index field of the head record.
func (s *Stack) IndexBits() uint {
	return s.indexBits
}

// Len walks the list and counts free frames. The result is exact only while
// no Push or Pop is in flight.
func (s *Stack) Len() int {
	count := 0
	top := s.head.Load() & s.indexMask
	for top != 0 && top <= uint64(s.n) && count <= s.n {
		count++
		top = atomic.LoadUint64(s.link(int(top-1))) & s.indexMask
	}
	return count
}
