// Package mmap provides anonymous, page-backed memory mappings.
//
// # Overview
//
// A Mapping is a private, read-write region obtained directly from the
// operating system. It lives outside the Go heap, so the garbage collector
// never scans or moves it, and its addresses stay stable until Close.
//
// # Usage
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_PRIVATE|MAP_ANON
//   - Windows: VirtualAlloc with MEM_RESERVE|MEM_COMMIT
//
// # Thread Safety
//
// Bytes and Size are safe for concurrent use. Close is idempotent and
// protected by an atomic flag. Callers must ensure no goroutine touches the
// returned slice after Close returns.
package mmap
