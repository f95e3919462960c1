//go:build unix

package slab

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapAligned reserves size bytes of anonymous memory whose base is aligned
// to align (0 for page alignment only). The raw mapping is over-reserved by
// the alignment and must be handed back to unmap as-is.
func mapAligned(size, align uint32) (raw, data []byte, err error) {
	raw, err = unix.Mmap(-1, 0, int(size)+int(align),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	off := alignOffset(uintptr(unsafe.Pointer(unsafe.SliceData(raw))), align)
	return raw, raw[off : off+int(size) : off+int(size)], nil
}

func unmap(raw []byte) {
	if raw == nil {
		return
	}
	// Double-unmap cannot happen: the cache nils the slab's raw slice on
	// release. An EINVAL here means a foreign slice and is ignored.
	_ = unix.Munmap(raw)
}
