package framealloc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/framealloc/internal/freelist"
)

var (
	// ErrOutOfMemory is returned when the backing region cannot be obtained,
	// when the memory budget refuses it, or when every frame is allocated.
	ErrOutOfMemory = errors.New("framealloc: out of memory")

	// ErrClosed is returned by Alloc after Close.
	ErrClosed = errors.New("framealloc: allocator is closed")

	// ErrInvalidGeometry is returned when frame size times frame count
	// overflows, or when the frame count is too large for the head record.
	ErrInvalidGeometry = errors.New("framealloc: invalid geometry")
)

// translateError maps internal package errors onto the public sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, freelist.ErrTooManyFrames) || errors.Is(err, freelist.ErrInvalidGeometry) {
		return fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
	}
	return err
}
