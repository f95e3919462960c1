package slab

import "errors"

var (
	// ErrSlabSize indicates a slab size that is not a power of two.
	ErrSlabSize = errors.New("slab: slab size must be a power of two")

	// ErrSlabSizeRange indicates a slab size outside the supported range.
	ErrSlabSizeRange = errors.New("slab: slab size out of range")
)
