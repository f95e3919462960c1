// Package small implements a small-object allocator on top of a slab cache.
//
// # Overview
//
// Objects are served from a set of size-class mempools. The size classifier
// maps a requested size to a pool index with bounded factor error: sizes grow
// by the alignment granularity in an incremental region, then geometrically
// by a factor of the form 2^(1/2^k), which keeps both directions of the
// mapping pure shift arithmetic.
//
// Pools sharing a slab order form groups of up to 32. A fresh pool does not
// own slabs: its requests are redirected to the largest pool of its group,
// and the over-allocation is accounted as waste. Once a pool's waste crosses
// a quarter of the slab size, the pool is activated and starts serving
// itself (and any smaller group members that route to it). Activation only
// ever tightens routing.
//
// # Delayed free
//
// SetDelayedFreeMode(true) quarantines FreeDelayed calls on per-pool LIFOs.
// SetDelayedFreeMode(false) switches to garbage collection: every subsequent
// Alloc drains up to 100 quarantined items before allocating, until the
// backlog is gone and the allocator returns to synchronous freeing.
//
// # Errors
//
// Out-of-memory is the only runtime-recoverable failure and surfaces as a
// nil slice from Alloc. API misuse (double free, freeing with a size from a
// different class, foreign pointers) panics.
//
// Allocator instances are not thread-safe; each owns its slab cache
// exclusively.
package small
