// Package testutil provides testing utilities for framealloc.
//
// This package is intended for use in tests, benchmarks and examples only.
// It provides a seeded, thread-safe random source for reproducible
// allocate/free interleavings.
//
//	rng := testutil.NewRNG(seed)
//	order := rng.Perm(len(frames)) // free in a random order
//	if rng.Chance(0.3) { ... }     // free early 30% of the time
package testutil
