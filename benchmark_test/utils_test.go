package benchmark_test

import (
	"testing"

	"github.com/hupe1980/framealloc"
)

const benchSeed = 4711

var frameSizes = []int{64, 512, 4096}

// OpenBenchAllocator creates an allocator that is closed when tb finishes.
func OpenBenchAllocator(tb testing.TB, frameBytes, frameCount int) *framealloc.Allocator {
	tb.Helper()
	a, err := framealloc.New(frameBytes, frameCount)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = a.Close() })
	return a
}
