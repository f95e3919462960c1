package slab

import (
	"fmt"
	"math/bits"
	"unsafe"
)

const (
	// order0Size is the smallest slab the cache hands out.
	order0Size = 4096

	// SlabSizeMin and SlabSizeMax bound Config.SlabSize.
	SlabSizeMin = 64 * 1024
	SlabSizeMax = 16 << 20
)

// Config parameterises a Cache.
type Config struct {
	// SlabSize is the order-max slab size in bytes. Power of two,
	// between SlabSizeMin and SlabSizeMax.
	SlabSize uint32

	// Limit caps the total bytes acquired from the OS. 0 means unlimited.
	Limit uint64
}

// Slab is one mapped memory block owned by the cache.
type Slab struct {
	// Data is the usable slab memory, aligned to the slab size for
	// ordered slabs.
	Data []byte

	// Meta is a back-reference slot for the mempool that owns the slab.
	// The cache never touches it.
	Meta any

	base  uintptr
	raw   []byte // full mapping, kept for release
	size  uint32
	order uint8
	large bool
}

// Base returns the address of the first byte of Data.
func (s *Slab) Base() uintptr { return s.base }

// Size returns the usable slab size in bytes.
func (s *Slab) Size() uint32 { return s.size }

// Order returns the slab order. Meaningless for large slabs.
func (s *Slab) Order() uint8 { return s.order }

// Cache owns a set of slabs acquired from the OS.
type Cache struct {
	orderMax uint8
	limit    uint64
	used     uint64

	// Registries keyed by base address. Ordered slabs are aligned to
	// their own size, so FromPtr can mask an interior pointer down to
	// the key. Large slabs are keyed by their exact data base.
	slabs map[uintptr]*Slab
	large map[uintptr]*Slab
}

// New creates a cache handing out slabs of orders 0 (4 KiB) through
// order max (cfg.SlabSize).
func New(cfg Config) (*Cache, error) {
	if cfg.SlabSize == 0 || cfg.SlabSize&(cfg.SlabSize-1) != 0 {
		return nil, ErrSlabSize
	}
	if cfg.SlabSize < SlabSizeMin || cfg.SlabSize > SlabSizeMax {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]",
			ErrSlabSizeRange, cfg.SlabSize, SlabSizeMin, SlabSizeMax)
	}
	return &Cache{
		orderMax: uint8(bits.TrailingZeros32(cfg.SlabSize / order0Size)),
		limit:    cfg.Limit,
		slabs:    make(map[uintptr]*Slab),
		large:    make(map[uintptr]*Slab),
	}, nil
}

// OrderMax returns the largest slab order.
func (c *Cache) OrderMax() uint8 { return c.orderMax }

// SlabSize returns the order-max slab size.
func (c *Cache) SlabSize() uint32 { return c.OrderSize(c.orderMax) }

// OrderSize returns the slab size of the given order.
func (c *Cache) OrderSize(order uint8) uint32 {
	return order0Size << order
}

// Order returns the smallest order whose slab fits size bytes, clamped
// to the order range.
func (c *Cache) Order(size uint32) uint8 {
	if size <= order0Size {
		return 0
	}
	o := uint8(32 - bits.LeadingZeros32((size-1)/order0Size))
	if o > c.orderMax {
		o = c.orderMax
	}
	return o
}

// PtrMask returns the mask recovering an order-aligned slab base from an
// interior pointer.
func (c *Cache) PtrMask(order uint8) uintptr {
	return ^(uintptr(c.OrderSize(order)) - 1)
}

// Used returns the total bytes currently acquired from the OS.
func (c *Cache) Used() uint64 { return c.used }

// Acquire maps one slab of the given order, aligned to its own size.
// Returns nil when the quota would be exceeded or the mapping fails.
func (c *Cache) Acquire(order uint8) *Slab {
	if order > c.orderMax {
		panic(fmt.Sprintf("slab: order %d above order max %d", order, c.orderMax))
	}
	size := c.OrderSize(order)
	if c.limit != 0 && c.used+uint64(size) > c.limit {
		return nil
	}
	raw, data, err := mapAligned(size, size)
	if err != nil {
		return nil
	}
	s := &Slab{
		Data:  data,
		base:  uintptr(unsafe.Pointer(unsafe.SliceData(data))),
		raw:   raw,
		size:  size,
		order: order,
	}
	c.slabs[s.base] = s
	c.used += uint64(size)
	return s
}

// Release returns an ordered slab to the OS.
func (c *Cache) Release(s *Slab) {
	if s.large {
		panic("slab: Release called on a large slab")
	}
	if c.slabs[s.base] != s {
		panic("slab: Release of a slab not owned by this cache")
	}
	delete(c.slabs, s.base)
	c.used -= uint64(s.size)
	s.Meta = nil
	unmap(s.raw)
	s.Data, s.raw = nil, nil
}

// GetLarge maps a direct allocation of at least size bytes, page-rounded.
// Returns nil when the quota would be exceeded or the mapping fails.
func (c *Cache) GetLarge(size uint32) *Slab {
	mapped := (size + order0Size - 1) &^ (order0Size - 1)
	if c.limit != 0 && c.used+uint64(mapped) > c.limit {
		return nil
	}
	raw, data, err := mapAligned(mapped, 0)
	if err != nil {
		return nil
	}
	s := &Slab{
		Data:  data,
		base:  uintptr(unsafe.Pointer(unsafe.SliceData(data))),
		raw:   raw,
		size:  mapped,
		large: true,
	}
	c.large[s.base] = s
	c.used += uint64(mapped)
	return s
}

// PutLarge returns a large slab to the OS.
func (c *Cache) PutLarge(s *Slab) {
	if !s.large {
		panic("slab: PutLarge called on an ordered slab")
	}
	if c.large[s.base] != s {
		panic("slab: PutLarge of a slab not owned by this cache")
	}
	delete(c.large, s.base)
	c.used -= uint64(s.size)
	unmap(s.raw)
	s.Data, s.raw = nil, nil
}

// FromPtr recovers the enclosing ordered slab of an interior pointer.
// mask must be the PtrMask of the slab's order.
func (c *Cache) FromPtr(addr, mask uintptr) *Slab {
	s := c.slabs[addr&mask]
	if s == nil {
		panic(fmt.Sprintf("slab: pointer %#x does not belong to this cache", addr))
	}
	return s
}

// FromData recovers a large slab from its data base address.
func (c *Cache) FromData(addr uintptr) *Slab {
	s := c.large[addr]
	if s == nil {
		panic(fmt.Sprintf("slab: %#x is not the base of a large slab", addr))
	}
	return s
}

// Destroy checks that every slab has been returned. It exists so tests and
// owners can assert leak freedom at teardown.
func (c *Cache) Destroy() {
	if len(c.slabs) != 0 || len(c.large) != 0 {
		panic(fmt.Sprintf("slab: cache destroyed with %d ordered and %d large slabs live",
			len(c.slabs), len(c.large)))
	}
}
