// Package mempool implements a fixed-size object allocator over slabs.
//
// Each pool serves exactly one object size. Objects are carved from slabs of
// a single order; freed objects go onto a per-slab intrusive free list whose
// links are written into the first four bytes of the free object itself, so a
// pool carries no per-object bookkeeping outside slab memory.
//
// A slab is released back to the cache as soon as its last live object is
// freed.
//
// Pools are not thread-safe.
package mempool
