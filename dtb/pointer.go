package dtb

import (
	"encoding/binary"
	"unsafe"
)

// FromPointer builds a Blob from the raw address the firmware passed in a1
// at entry. The header is read first to learn the declared total size, then
// the full blob is validated through Parse. The memory is borrowed from the
// firmware; nothing is copied.
func FromPointer(p uintptr) (*Blob, error) {
	if p == 0 {
		return nil, parseErr(0, "nil blob pointer")
	}
	hdr := unsafe.Slice((*byte)(unsafe.Pointer(p)), headerSize)
	if binary.BigEndian.Uint32(hdr[0:]) != Magic {
		return nil, parseErr(0, "bad magic")
	}
	total := binary.BigEndian.Uint32(hdr[4:])
	if total < headerSize {
		return nil, parseErr(4, "declared total size smaller than header")
	}
	return Parse(unsafe.Slice((*byte)(unsafe.Pointer(p)), total))
}
