// Package slab provides the slab cache that backs the small-object allocator.
//
// # Overview
//
// A slab is a contiguous power-of-two-sized memory block, mapped anonymously
// from the OS and aligned to its own size. The cache hands out slabs in a
// range of orders (order 0 is 4 KiB; each order doubles the size up to the
// configured slab size) plus "large" direct allocations for objects that
// exceed the mempool range.
//
// Because every ordered slab is aligned to its own size, the enclosing slab
// of any interior pointer can be recovered with a single mask:
//
//	s := cache.FromPtr(addr, cache.PtrMask(order))
//
// # Quota
//
// Config.Limit caps the total bytes acquired from the OS. Acquire and
// GetLarge return nil once the quota would be exceeded; this is the
// allocator's out-of-memory condition and the injection point tests use to
// exercise OOM paths.
//
// # Thread Safety
//
// A Cache is not thread-safe. It is owned by a single allocator instance and
// must be used from one goroutine.
package slab
