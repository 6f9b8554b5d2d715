// Package assert reports violated preconditions.
//
// Preconditions are programmer errors (a nil handle, a zero-sized request, a
// frame that does not belong to the allocator). They are never returned as
// errors: the report is written with the caller's file and line and a short
// stack snapshot, then the goroutine panics with a *Violation.
package assert
