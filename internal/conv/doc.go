// Package conv provides checked size arithmetic.
//
// These functions perform bounds checking to prevent overflow when deriving
// region geometry (frame size rounded to the cache line, times frame count).
package conv
