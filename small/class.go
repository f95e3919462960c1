package small

import (
	"math"
	"math/bits"
)

// SizeClass maps object sizes to size-class indices and back.
//
// Class sizes grow by the granularity for the first effSize classes (the
// incremental region) and geometrically afterwards. The geometric factor is
// 2^(1/2^effBits): class size doubles every effSize classes, and within one
// such decade consecutive classes differ by a constant delta that doubles
// between decades. That shape makes both directions computable with shifts
// and a leading-zero count, no tables.
type SizeClass struct {
	granularity uint32
	ignoreBits  uint32 // log2(granularity): bits never significant for a size
	effBits     uint32
	effSize     uint32 // 1 << effBits, classes per decade
	effMask     uint32 // effSize - 1

	// sizeShift offsets all class sizes so that class 0 lands on the
	// requested minimum allocation: min alloc minus one granule.
	sizeShift      uint32
	sizeShiftPlus1 uint32

	requestedFactor float32
	actualFactor    float32
}

// NewSizeClass builds a classifier. granularity must be a power of two,
// factor in (1, 2], minAlloc at least granularity.
func NewSizeClass(granularity uint32, factor float32, minAlloc uint32) (*SizeClass, error) {
	if granularity == 0 || granularity&(granularity-1) != 0 {
		return nil, ErrGranularity
	}
	if !(factor > 1 && factor <= 2) {
		return nil, ErrFactor
	}
	if minAlloc < granularity {
		return nil, ErrMinAlloc
	}
	// Pick k minimising |log2(actual) - log2(factor)| over factors of the
	// form 2^(1/2^k): round log2(1/log2(factor)) to the nearest integer.
	effBits := uint32(math.Log2(1/math.Log2(float64(factor))) + 0.5)
	effSize := uint32(1) << effBits
	return &SizeClass{
		granularity:     granularity,
		ignoreBits:      uint32(bits.TrailingZeros32(granularity)),
		effBits:         effBits,
		effSize:         effSize,
		effMask:         effSize - 1,
		sizeShift:       minAlloc - granularity,
		sizeShiftPlus1:  minAlloc - granularity + 1,
		requestedFactor: factor,
		actualFactor:    float32(math.Pow(2, 1/float64(effSize))),
	}, nil
}

// EffSize returns the number of classes per geometric decade, which is also
// the length of the incremental region.
func (sc *SizeClass) EffSize() uint32 { return sc.effSize }

// RequestedFactor returns the factor the classifier was asked for.
func (sc *SizeClass) RequestedFactor() float32 { return sc.requestedFactor }

// ActualFactor returns the realised geometric factor, 2^(1/2^k).
func (sc *SizeClass) ActualFactor() float32 { return sc.actualFactor }

// ClassBySize returns the smallest class whose size fits size bytes.
// Sizes at or below the minimum allocation map to class 0.
func (sc *SizeClass) ClassBySize(size uint32) uint32 {
	// Decrement to make class 0 the base and to round up to a class
	// boundary in one go; underflow means "below min alloc".
	x := size - sc.sizeShiftPlus1
	if x > size {
		x = 0
	}
	x >>= sc.ignoreBits
	if x < sc.effSize {
		return x
	}
	msb := uint32(bits.Len32(x)) - 1
	shift := msb - sc.effBits
	return ((shift + 1) << sc.effBits) + ((x >> shift) & sc.effMask)
}

// SizeByClass returns the exact object size of a class.
func (sc *SizeClass) SizeByClass(cls uint32) uint32 {
	if cls < sc.effSize {
		return ((cls + 1) << sc.ignoreBits) + sc.sizeShift
	}
	decade := cls >> sc.effBits
	granules := (sc.effSize + (cls & sc.effMask) + 1) << (decade - 1)
	return (granules << sc.ignoreBits) + sc.sizeShift
}
