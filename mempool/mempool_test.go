package mempool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/EvgenyMekhanik/small/slab"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func newTestPool(t *testing.T, objsize uint32) (*slab.Cache, *Pool) {
	t.Helper()
	cache, err := slab.New(slab.Config{SlabSize: 1 << 20})
	require.NoError(t, err)
	return cache, New(cache, objsize)
}

func (p *Pool) freeAddr(addr uintptr) {
	p.FreeSlab(p.cache.FromPtr(addr, p.PtrMask()), addr)
}

func TestPoolAllocFree(t *testing.T) {
	cache, p := newTestPool(t, 64)

	b1 := p.Alloc()
	require.NotNil(t, b1)
	require.Len(t, b1, 64)
	b2 := p.Alloc()
	require.NotNil(t, b2)
	require.NotEqual(t, addrOf(b1), addrOf(b2))

	st := p.Stats()
	require.Equal(t, uint32(2), st.ObjCount)
	require.Equal(t, uint64(128), st.Used)
	require.Equal(t, uint32(1), st.SlabCount)

	p.freeAddr(addrOf(b2))
	p.freeAddr(addrOf(b1))
	require.Zero(t, cache.Used(), "empty slab must go back to the cache")
	require.Zero(t, p.Stats().SlabCount)
	cache.Destroy()
}

func TestPoolFreeListReuse(t *testing.T) {
	cache, p := newTestPool(t, 32)

	b1 := p.Alloc()
	b2 := p.Alloc()
	b3 := p.Alloc()
	require.NotNil(t, b3)

	// LIFO reuse of freed objects.
	p.freeAddr(addrOf(b2))
	b4 := p.Alloc()
	require.Equal(t, addrOf(b2), addrOf(b4))

	p.freeAddr(addrOf(b1))
	p.freeAddr(addrOf(b4))
	p.freeAddr(addrOf(b3))
	require.Zero(t, cache.Used())
	cache.Destroy()
}

func TestPoolSpansSlabs(t *testing.T) {
	cache, p := newTestPool(t, 128)

	perSlab := cache.OrderSize(p.SlabOrder()) / 128
	n := perSlab*2 + 3
	addrs := make([]uintptr, 0, n)
	for i := uint32(0); i < n; i++ {
		b := p.Alloc()
		require.NotNil(t, b)
		addrs = append(addrs, addrOf(b))
	}
	require.Equal(t, uint32(3), p.Stats().SlabCount)
	require.Equal(t, n, p.Stats().ObjCount)

	for _, addr := range addrs {
		p.freeAddr(addr)
	}
	require.Zero(t, cache.Used())
	cache.Destroy()
}

func TestPoolOrderGrowsWithObjsize(t *testing.T) {
	cache, err := slab.New(slab.Config{SlabSize: 4 << 20})
	require.NoError(t, err)

	small := New(cache, 16)
	big := New(cache, 4096)
	require.Less(t, small.SlabOrder(), big.SlabOrder())

	// The largest objects clamp to the order-max slab.
	huge := New(cache, ObjsizeMax(4<<20))
	require.Equal(t, cache.OrderMax(), huge.SlabOrder())
	cache.Destroy()
}

func TestPoolFromSlab(t *testing.T) {
	cache, p := newTestPool(t, 48)
	p.OwnerIdx = 7

	b := p.Alloc()
	require.NotNil(t, b)
	s := cache.FromPtr(addrOf(b), p.PtrMask())
	require.Same(t, p, FromSlab(s))
	require.Equal(t, int32(7), FromSlab(s).OwnerIdx)

	p.freeAddr(addrOf(b))
	cache.Destroy()
}

func TestPoolMisusePanics(t *testing.T) {
	cache, p := newTestPool(t, 64)

	b := p.Alloc()
	require.NotNil(t, b)
	s := cache.FromPtr(addrOf(b), p.PtrMask())

	// Interior, unaligned address.
	require.Panics(t, func() { p.FreeSlab(s, addrOf(b)+1) })
	// Never-carved region.
	require.Panics(t, func() { p.FreeSlab(s, addrOf(b)+64) })
	// Foreign pool.
	other := New(cache, 64)
	require.Panics(t, func() { other.FreeSlab(s, addrOf(b)) })

	p.freeAddr(addrOf(b))
	cache.Destroy()
}

func TestPoolOOM(t *testing.T) {
	// Room for exactly one slab of the pool's order.
	cache, err := slab.New(slab.Config{SlabSize: 1 << 20, Limit: 128 * 1024})
	require.NoError(t, err)
	p := New(cache, 1024)

	var addrs []uintptr
	for {
		b := p.Alloc()
		if b == nil {
			break
		}
		addrs = append(addrs, addrOf(b))
		require.Less(t, len(addrs), 10000)
	}
	require.NotEmpty(t, addrs)
	for _, addr := range addrs {
		p.freeAddr(addr)
	}
	require.Zero(t, cache.Used())
	cache.Destroy()
}

func TestPoolDestroyWithLive(t *testing.T) {
	cache, p := newTestPool(t, 256)

	for i := 0; i < 10; i++ {
		require.NotNil(t, p.Alloc())
	}
	p.Destroy()
	require.Zero(t, cache.Used())
	cache.Destroy()
}
