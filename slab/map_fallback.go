//go:build !unix

package slab

import "unsafe"

// mapAligned carves an aligned window out of a heap slice on platforms
// without anonymous mmap. The raw slice stays referenced from the Slab, and
// Go's non-moving collector keeps the window's address stable.
func mapAligned(size, align uint32) (raw, data []byte, err error) {
	raw = make([]byte, int(size)+int(align))
	off := alignOffset(uintptr(unsafe.Pointer(unsafe.SliceData(raw))), align)
	return raw, raw[off : off+int(size) : off+int(size)], nil
}

func unmap(raw []byte) {}
