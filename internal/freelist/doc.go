// Package freelist implements a lock-free LIFO of fixed-size frames.
//
// # Head Record
//
// The whole stack state is one 64-bit word:
//
//	 63                      indexBits            0
//	┌──────────────────────────┬────────────────────┐
//	│        generation        │      top + 1       │
//	└──────────────────────────┴────────────────────┘
//
// A top of 0 means the stack is empty. indexBits is the smallest width that
// can hold the frame count, so the generation gets every remaining bit. The
// word is read with one atomic load and replaced with one compare-and-swap,
// which commits top and generation together. Every successful push and pop
// increments the generation, so a pop that read a stale next link cannot
// succeed against a head that merely returned to the same top.
//
// # Links
//
// The first eight bytes of a free frame hold the next link (next + 1, 0 for
// end of list). Links are read and written atomically: a popper may read the
// link of a frame that another goroutine has just allocated and is
// overwriting. That read is harmless because the following compare-and-swap
// fails on the changed generation.
package freelist
