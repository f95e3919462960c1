package small

import "github.com/EvgenyMekhanik/small/mempool"

// Stats aggregates usage over every pool.
type Stats struct {
	// Used is the bytes held by live objects.
	Used uint64
	// Total is the bytes of slab memory owned by the pools.
	Total uint64
}

// Stats walks the pools in index order, filling totals and invoking cb with
// each pool's stats. A true return from cb stops the walk; cb may be nil.
// Totals cover pool memory only, not large direct allocations.
func (a *Allocator) Stats(totals *Stats, cb func(*mempool.Stats) bool) {
	*totals = Stats{}
	for i := range a.pools {
		st := a.pools[i].pool.Stats()
		totals.Used += st.Used
		totals.Total += st.Total
		if cb != nil && cb(&st) {
			break
		}
	}
}
