package mempool

import (
	"fmt"

	"github.com/EvgenyMekhanik/small/internal/buf"
	"github.com/EvgenyMekhanik/small/slab"
)

const (
	// nilOff terminates a slab's intrusive free list.
	nilOff = ^uint32(0)

	// linkSize is the free-list link written into free objects.
	linkSize = 4

	// objectsPerSlab is the desired object count per slab. It amortises
	// slab acquisition the way the upstream cell allocators keep header
	// overhead near 1%: larger objects get larger slab orders, which is
	// what partitions pools into slab-order groups.
	objectsPerSlab = 100
)

// Stats describes one pool's usage.
type Stats struct {
	ObjSize   uint32
	ObjCount  uint32
	SlabSize  uint32
	SlabCount uint32
	Used      uint64
	Total     uint64
}

// Pool is a fixed-size allocator over slabs of one order.
type Pool struct {
	cache    *slab.Cache
	objsize  uint32
	order    uint8
	mask     uintptr
	capacity uint32 // objects per slab

	slabCount uint32
	used      uint32 // live objects across all slabs

	free *slabState // slabs with spare capacity
	all  *slabState // every slab owned by the pool

	// OwnerIdx is the index of the owning small pool inside the
	// allocator's pool array. The facade sets it once at construction and
	// uses it to resolve the actual pool of any pointer via FromSlab.
	OwnerIdx int32
}

// slabState is the per-slab bookkeeping. It hangs off slab.Slab.Meta so that
// a slab recovered from an interior pointer leads back to its pool.
type slabState struct {
	s    *slab.Slab
	pool *Pool

	freeOff uint32 // head of the intrusive free list, nilOff when empty
	carved  uint32 // objects ever carved from the bump region
	used    uint32 // live objects in this slab

	next, prev       *slabState // free-capacity list
	allNext, allPrev *slabState // all-slabs list
}

func (st *slabState) full() bool {
	return st.freeOff == nilOff && st.carved == st.pool.capacity
}

// New creates a pool serving objects of exactly objsize bytes.
func New(cache *slab.Cache, objsize uint32) *Pool {
	if objsize < linkSize {
		panic(fmt.Sprintf("mempool: objsize %d below free-list link size", objsize))
	}
	want := uint64(objsize) * objectsPerSlab
	if want > uint64(cache.SlabSize()) {
		want = uint64(cache.SlabSize())
	}
	order := cache.Order(uint32(want))
	p := &Pool{
		cache:    cache,
		objsize:  objsize,
		order:    order,
		mask:     cache.PtrMask(order),
		capacity: cache.OrderSize(order) / objsize,
		OwnerIdx: -1,
	}
	if p.capacity == 0 {
		panic(fmt.Sprintf("mempool: objsize %d does not fit a %d-byte slab",
			objsize, cache.OrderSize(order)))
	}
	return p
}

// ObjSize returns the exact object size the pool serves.
func (p *Pool) ObjSize() uint32 { return p.objsize }

// SlabOrder returns the order of the slabs backing the pool.
func (p *Pool) SlabOrder() uint8 { return p.order }

// PtrMask returns the mask recovering a slab base from an object pointer.
func (p *Pool) PtrMask() uintptr { return p.mask }

// FromSlab returns the pool that owns s.
func FromSlab(s *slab.Slab) *Pool {
	st, ok := s.Meta.(*slabState)
	if !ok {
		panic("mempool: slab is not owned by a mempool")
	}
	return st.pool
}

// Alloc returns one object of ObjSize bytes, or nil when the slab cache
// cannot provide a new slab.
func (p *Pool) Alloc() []byte {
	st := p.free
	if st == nil {
		s := p.cache.Acquire(p.order)
		if s == nil {
			return nil
		}
		st = &slabState{s: s, pool: p, freeOff: nilOff}
		s.Meta = st
		p.pushFree(st)
		p.pushAll(st)
		p.slabCount++
	}
	var off uint32
	if st.freeOff != nilOff {
		off = st.freeOff
		st.freeOff = buf.U32LE(st.s.Data[off:])
	} else {
		off = st.carved * p.objsize
		st.carved++
	}
	st.used++
	p.used++
	if st.full() {
		p.removeFree(st)
	}
	return st.s.Data[off : off+p.objsize : off+p.objsize]
}

// FreeSlab returns the object at addr to the slab s it was carved from.
// The slab is released to the cache when its last live object goes.
func (p *Pool) FreeSlab(s *slab.Slab, addr uintptr) {
	st, ok := s.Meta.(*slabState)
	if !ok || st.pool != p {
		panic("mempool: free into a slab the pool does not own")
	}
	diff := addr - s.Base()
	off := uint32(diff)
	if uintptr(off) != diff || off >= st.carved*p.objsize || off%p.objsize != 0 {
		panic(fmt.Sprintf("mempool: free of %#x outside the carved region of slab %#x",
			addr, s.Base()))
	}
	if st.used == 0 {
		panic("mempool: free into an empty slab")
	}
	wasFull := st.full()
	buf.PutU32LE(st.s.Data[off:], st.freeOff)
	st.freeOff = off
	st.used--
	p.used--
	if st.used == 0 {
		if !wasFull {
			p.removeFree(st)
		}
		p.removeAll(st)
		p.slabCount--
		p.cache.Release(s)
		return
	}
	if wasFull {
		p.pushFree(st)
	}
}

// Destroy releases every slab the pool owns, live objects included. The
// facade calls it on allocator teardown.
func (p *Pool) Destroy() {
	for st := p.all; st != nil; {
		next := st.allNext
		p.cache.Release(st.s)
		st = next
	}
	p.all, p.free = nil, nil
	p.slabCount, p.used = 0, 0
}

// Stats returns the pool's current usage.
func (p *Pool) Stats() Stats {
	slabSize := p.cache.OrderSize(p.order)
	return Stats{
		ObjSize:   p.objsize,
		ObjCount:  p.used,
		SlabSize:  slabSize,
		SlabCount: p.slabCount,
		Used:      uint64(p.used) * uint64(p.objsize),
		Total:     uint64(p.slabCount) * uint64(slabSize),
	}
}

// ObjsizeMax returns the largest object size a pool may serve over slabs of
// slabSize bytes: at least four of the largest objects fit one slab.
func ObjsizeMax(slabSize uint32) uint32 {
	return slabSize / 4
}

func (p *Pool) pushFree(st *slabState) {
	st.prev = nil
	st.next = p.free
	if p.free != nil {
		p.free.prev = st
	}
	p.free = st
}

func (p *Pool) removeFree(st *slabState) {
	if st.prev != nil {
		st.prev.next = st.next
	} else {
		p.free = st.next
	}
	if st.next != nil {
		st.next.prev = st.prev
	}
	st.next, st.prev = nil, nil
}

func (p *Pool) pushAll(st *slabState) {
	st.allPrev = nil
	st.allNext = p.all
	if p.all != nil {
		p.all.allPrev = st
	}
	p.all = st
}

func (p *Pool) removeAll(st *slabState) {
	if st.allPrev != nil {
		st.allPrev.allNext = st.allNext
	} else {
		p.all = st.allNext
	}
	if st.allNext != nil {
		st.allNext.allPrev = st.allPrev
	}
	st.allNext, st.allPrev = nil, nil
}
