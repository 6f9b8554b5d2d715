package testutil

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNG_Deterministic(t *testing.T) {
	r1, r2 := NewRNG(4711), NewRNG(4711)

	a := []int{r1.Intn(100), r1.Intn(100), r1.Intn(100)}
	b := []int{r2.Intn(100), r2.Intn(100), r2.Intn(100)}

	assert.Equal(t, a, b)
}

func TestRNG_Perm(t *testing.T) {
	rng := NewRNG(4711)

	p := rng.Perm(16)
	assert.Len(t, p, 16)

	sorted := append([]int(nil), p...)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(t, i, v)
	}
}

func TestShuffle(t *testing.T) {
	rng := NewRNG(4711)

	s := []string{"a", "b", "c", "d", "e"}
	Shuffle(rng, s)

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, s)
}

func TestRNG_Chance(t *testing.T) {
	rng := NewRNG(4711)

	for i := 0; i < 100; i++ {
		assert.False(t, rng.Chance(0))
		assert.True(t, rng.Chance(1))
	}
}

func TestRNG_Fork(t *testing.T) {
	a := NewRNG(1).Fork()
	b := NewRNG(1).Fork()

	assert.Equal(t, a.Perm(32), b.Perm(32))
}
