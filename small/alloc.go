package small

import (
	"fmt"
	"unsafe"

	"github.com/EvgenyMekhanik/small/mempool"
	"github.com/EvgenyMekhanik/small/slab"
)

// freeMode is the allocator's delayed-free state machine.
type freeMode uint8

const (
	// modeFree frees synchronously.
	modeFree freeMode = iota
	// modeDelayedFree quarantines FreeDelayed calls.
	modeDelayedFree
	// modeCollectGarbage drains the quarantine in bounded batches at the
	// start of each Alloc, then falls back to modeFree.
	modeCollectGarbage
)

// gcBatch bounds the work of one garbage-collection step.
const gcBatch = 100

// Config parameterises an Allocator.
type Config struct {
	// ObjsizeMin is the smallest object size the classifier recognises.
	// Rounded up to at least one granule.
	ObjsizeMin uint32

	// Granularity is the allocation alignment unit: a power of two, at
	// least the pointer size.
	Granularity uint32

	// Factor is the desired geometric growth of class sizes, in (1, 2].
	Factor float32
}

// Allocator routes small-object requests to size-class mempools over a slab
// cache, with waste-bounded pool activation and an optional delayed-free
// discipline.
type Allocator struct {
	cache  *slab.Cache
	class  *SizeClass
	pools  []smallPool
	groups []group

	// objsizeMax is the largest pool-served size; bigger requests go to
	// the cache's large-slab path.
	objsizeMax uint32

	mode freeMode

	// delayed is a LIFO of pool indices with pending delayed frees;
	// delayedLarge quarantines large allocations.
	delayed      []int32
	delayedLarge []uintptr
}

// NewAllocator builds the pool table and groups deterministically from the
// configuration. The realised growth factor is available via ActualFactor.
func NewAllocator(cache *slab.Cache, cfg Config) (*Allocator, error) {
	g := cfg.Granularity
	if g < 8 || g&(g-1) != 0 {
		return nil, ErrGranularity
	}
	minAlloc := cfg.ObjsizeMin
	if minAlloc < g {
		minAlloc = g
	}
	minAlloc = alignUp(minAlloc, g)
	class, err := NewSizeClass(g, cfg.Factor, minAlloc)
	if err != nil {
		return nil, err
	}
	a := &Allocator{
		cache:      cache,
		class:      class,
		objsizeMax: alignUp(mempool.ObjsizeMax(cache.SlabSize()), g),
	}
	a.createPools()
	return a, nil
}

// createPools builds one pool per size class up to objsizeMax and carves the
// table into slab-order groups as the order changes.
func (a *Allocator) createPools() {
	var objsize uint32
	var orderCur uint8
	firstInRun := int32(0)
	for i := int32(0); objsize < a.objsizeMax && i < poolMax; i++ {
		prev := objsize
		objsize = a.class.SizeByClass(uint32(i))
		if objsize > a.objsizeMax {
			objsize = a.objsizeMax
		}
		mp := mempool.New(a.cache, objsize)
		mp.OwnerIdx = i
		a.pools = append(a.pools, smallPool{
			pool:       mp,
			objsizeMin: prev + 1,
			index:      i,
			used:       -1,
		})
		if i == 0 {
			orderCur = mp.SlabOrder()
		}
		if mp.SlabOrder() != orderCur {
			orderCur = mp.SlabOrder()
			a.createGroups(firstInRun, i-1)
			firstInRun = i
		}
		if objsize == a.objsizeMax {
			a.createGroups(firstInRun, i)
			firstInRun = i + 1
		}
	}
	// A very low factor can exhaust the pool table before objsizeMax is
	// reached; group the tail run so every pool has a routing target.
	if last := int32(len(a.pools)) - 1; firstInRun <= last {
		a.createGroups(firstInRun, last)
	}
	a.objsizeMax = objsize
}

// ActualFactor returns the realised geometric growth factor.
func (a *Allocator) ActualFactor() float32 { return a.class.ActualFactor() }

// ObjsizeMax returns the largest size served from pools.
func (a *Allocator) ObjsizeMax() uint32 { return a.objsizeMax }

// Alloc returns a slice of size bytes, or nil when the slab cache is out of
// memory. In collect-garbage mode one bounded drain batch runs first.
func (a *Allocator) Alloc(size uint32) []byte {
	a.collectGarbage()

	p := a.poolFor(size)
	if p == nil {
		s := a.cache.GetLarge(size)
		if s == nil {
			return nil
		}
		return s.Data[:size]
	}
	used := &a.pools[p.used]
	b := used.pool.Alloc()
	if b == nil {
		return nil
	}
	if used != p {
		// Waste is accounted only after a successful allocation so an
		// OOM leaves the counters untouched.
		p.waste += used.pool.ObjSize() - p.pool.ObjSize()
		if p.waste >= a.groups[p.group].wasteMax {
			a.activate(p)
		}
	}
	return b[:size]
}

// Free releases an object previously returned by Alloc for the same size.
// The actual pool is recovered from the enclosing slab, so objects served by
// a sibling pool reconcile the requesting pool's waste.
func (a *Allocator) Free(ptr []byte, size uint32) {
	addr := addrOf(ptr)
	p := a.poolFor(size)
	if p == nil {
		a.cache.PutLarge(a.cache.FromData(addr))
		return
	}
	s := a.cache.FromPtr(addr, p.pool.PtrMask())
	actual := a.actualPool(s)
	a.reconcileWaste(p, actual)
	actual.pool.FreeSlab(s, addr)
}

// FreeDelayed quarantines the object in delayed-free mode and frees it
// synchronously otherwise.
func (a *Allocator) FreeDelayed(ptr []byte, size uint32) {
	if a.mode == modeDelayedFree && ptr != nil {
		addr := addrOf(ptr)
		p := a.poolFor(size)
		if p == nil {
			a.delayedLarge = append(a.delayedLarge, addr)
			return
		}
		if len(p.delayed) == 0 {
			a.delayed = append(a.delayed, p.index)
		}
		p.delayed = append(p.delayed, addr)
		return
	}
	a.Free(ptr, size)
}

// SetDelayedFreeMode toggles the delayed-free discipline. Turning it off
// does not free the backlog at once: the allocator enters collect-garbage
// mode and drains it incrementally on subsequent Alloc calls.
func (a *Allocator) SetDelayedFreeMode(on bool) {
	if on {
		a.mode = modeDelayedFree
	} else {
		a.mode = modeCollectGarbage
	}
}

// collectGarbage performs one bounded reclamation step: first the large
// backlog, then the pool backlogs in LIFO registration order, and once both
// are empty the allocator returns to synchronous freeing.
func (a *Allocator) collectGarbage() {
	if a.mode != modeCollectGarbage {
		return
	}
	if len(a.delayedLarge) > 0 {
		for i := 0; i < gcBatch && len(a.delayedLarge) > 0; i++ {
			addr := a.delayedLarge[len(a.delayedLarge)-1]
			a.delayedLarge = a.delayedLarge[:len(a.delayedLarge)-1]
			a.cache.PutLarge(a.cache.FromData(addr))
		}
		return
	}
	if len(a.delayed) > 0 {
		q := &a.pools[a.delayed[len(a.delayed)-1]]
		for i := 0; i < gcBatch; i++ {
			if len(q.delayed) == 0 {
				a.delayed = a.delayed[:len(a.delayed)-1]
				if len(a.delayed) == 0 {
					break
				}
				q = &a.pools[a.delayed[len(a.delayed)-1]]
				continue
			}
			addr := q.delayed[len(q.delayed)-1]
			q.delayed = q.delayed[:len(q.delayed)-1]
			s := a.cache.FromPtr(addr, q.pool.PtrMask())
			actual := a.actualPool(s)
			a.reconcileWaste(q, actual)
			actual.pool.FreeSlab(s, addr)
		}
		return
	}
	a.mode = modeFree
}

// Destroy releases every slab of every pool, live objects included, and
// drains the large quarantine. Small quarantined objects go away with their
// pools' slabs.
func (a *Allocator) Destroy() {
	for i := range a.pools {
		a.pools[i].pool.Destroy()
		a.pools[i].delayed = nil
	}
	a.delayed = nil
	for _, addr := range a.delayedLarge {
		a.cache.PutLarge(a.cache.FromData(addr))
	}
	a.delayedLarge = nil
	a.mode = modeFree
}

// actualPool resolves the pool that actually served an object from its
// enclosing slab.
func (a *Allocator) actualPool(s *slab.Slab) *smallPool {
	idx := mempool.FromSlab(s).OwnerIdx
	if idx < 0 || idx >= int32(len(a.pools)) {
		panic("small: slab belongs to a foreign allocator")
	}
	return &a.pools[idx]
}

// reconcileWaste undoes the allocation-time waste accounting of a request
// classified to p but served by actual.
func (a *Allocator) reconcileWaste(p, actual *smallPool) {
	delta := actual.pool.ObjSize() - p.pool.ObjSize()
	if p.waste < delta {
		panic(fmt.Sprintf("small: waste underflow on pool %d", p.index))
	}
	p.waste -= delta
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
