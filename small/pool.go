package small

import (
	"fmt"
	"math/bits"

	"github.com/EvgenyMekhanik/small/mempool"
)

const (
	// poolMax caps the pool table.
	poolMax = 1024

	// poolsPerGroupMax bounds a slab-order group so that group members
	// fit one 32-bit mask.
	poolsPerGroupMax = 32
)

// smallPool is one size-class pool plus its routing state.
type smallPool struct {
	pool *mempool.Pool

	// objsizeMin is one past the previous pool's object size: the lower
	// bound of sizes this pool is the best fit for.
	objsizeMin uint32

	index int32 // position in the allocator's pool array
	group int32 // position in the allocator's group array

	// used is the pool currently serving this pool's requests. Always a
	// group member with an object size >= this pool's.
	used int32

	// appropriateMask has bit i set when group member i could serve
	// requests classified here, i.e. members at or above this pool.
	appropriateMask uint32

	// waste is the bytes over-allocated by redirecting this pool's
	// requests to larger group members, net of frees.
	waste uint32

	// delayed quarantines object addresses during delayed-free mode.
	delayed []uintptr
}

// group is a run of up to 32 consecutive pools sharing a slab order.
type group struct {
	first, last int32

	// activeMask has bit i set when group member i owns slabs and may
	// serve requests. Gains bits monotonically.
	activeMask uint32

	// wasteMax is the per-pool waste threshold forcing activation:
	// a quarter of the group's slab size.
	wasteMax uint32
}

// activate marks p as serving its own requests and reroutes every smaller
// group member to the tightest active fit.
func (a *Allocator) activate(p *smallPool) {
	g := &a.groups[p.group]
	idx := uint32(p.index - g.first)
	if g.activeMask&(1<<idx) != 0 {
		panic(fmt.Sprintf("small: pool %d already activated", p.index))
	}
	g.activeMask |= 1 << idx
	// Pools above p keep their routing: their targets are at least as
	// tight as p already.
	for i := g.first; i <= p.index; i++ {
		q := &a.pools[i]
		q.used = g.first + int32(bits.TrailingZeros32(g.activeMask&q.appropriateMask))
		if q.used < i {
			panic("small: routing target below requesting pool")
		}
	}
}

// createGroups splits the pool run [first, last] (one slab order) into
// groups of at most 32 and initialises each.
func (a *Allocator) createGroups(first, last int32) {
	for first <= last {
		end := first + poolsPerGroupMax - 1
		if end > last {
			end = last
		}
		a.createGroup(first, end)
		first = end + 1
	}
}

func (a *Allocator) createGroup(first, last int32) {
	gi := int32(len(a.groups))
	lastPool := &a.pools[last]
	a.groups = append(a.groups, group{
		first:    first,
		last:     last,
		wasteMax: a.cache.OrderSize(lastPool.pool.SlabOrder()) / 4,
	})
	for i := first; i <= last; i++ {
		p := &a.pools[i]
		p.group = gi
		p.appropriateMask = ^uint32(0) << uint32(i-first)
	}
	// The largest pool is the initial routing target for the whole group.
	a.activate(lastPool)
}

// poolFor returns the best-fit pool for size, or nil when the request must
// go to the large-slab path.
func (a *Allocator) poolFor(size uint32) *smallPool {
	if size > a.objsizeMax {
		return nil
	}
	cls := a.class.ClassBySize(size)
	if cls >= uint32(len(a.pools)) {
		panic(fmt.Sprintf("small: size %d classified past the pool table", size))
	}
	return &a.pools[cls]
}
