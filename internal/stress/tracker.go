package stress

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Tracker records which frames are currently held.
type Tracker struct {
	mu          sync.Mutex
	outstanding *roaring.Bitmap
	max         uint64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{outstanding: roaring.New()}
}

// Acquire marks frame i as held. It fails if i is already held.
func (t *Tracker) Acquire(i uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.outstanding.CheckedAdd(i) {
		return fmt.Errorf("%w: frame %d", ErrDuplicateFrame, i)
	}
	if n := t.outstanding.GetCardinality(); n > t.max {
		t.max = n
	}
	return nil
}

// Release marks frame i as no longer held. Call it before the frame is freed.
func (t *Tracker) Release(i uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.outstanding.CheckedRemove(i) {
		return fmt.Errorf("%w: frame %d", ErrUnknownFrame, i)
	}
	return nil
}

// Outstanding returns the number of frames currently held.
func (t *Tracker) Outstanding() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding.GetCardinality()
}

// Max returns the largest number of frames held at once.
func (t *Tracker) Max() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

// Held returns the held frame numbers in ascending order.
func (t *Tracker) Held() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding.ToArray()
}
