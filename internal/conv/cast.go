package conv

import (
	"fmt"
	"math"
	"math/bits"
)

// MulInt multiplies two non-negative ints, failing if the product does not fit in an int.
func MulInt(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("integer overflow: %d * %d (negative operand)", a, b)
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d * %d does not fit in int", a, b)
	}
	return int(lo), nil
}

// AlignUp rounds v up to the next multiple of align, which must be a power of two.
func AlignUp(v, align int) (int, error) {
	if align <= 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("invalid alignment %d: must be a positive power of two", align)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid value %d: must not be negative", v)
	}
	if v > math.MaxInt-(align-1) {
		return 0, fmt.Errorf("integer overflow: %d aligned to %d does not fit in int", v, align)
	}
	return (v + align - 1) &^ (align - 1), nil
}
