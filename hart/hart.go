// Package hart owns the per-hart stack layout contract and the bringup
// coordinator that asks the firmware to start secondary harts.
package hart

import "errors"

const (
	// MaxHarts is how many harts the reserved stack area is sized for.
	// qemu-virt exposes up to eight by default; a hart id at or beyond
	// this is a boot contract violation, not a recoverable error, since
	// using it would place a stack on top of another hart's.
	MaxHarts = 8

	// StackSize is the per-hart stack reservation. Stacks grow downward
	// from the top of their region; the entry stub aligns the top down to
	// 16 bytes per the RISC-V calling convention.
	StackSize = 64 * 1024
)

// ErrHartRange reports a hart id outside the reserved stack area.
var ErrHartRange = errors.New("hart: id outside reserved stack range")

// ErrSelfStart reports an attempt to start the calling hart.
var ErrSelfStart = errors.New("hart: refusing to start the calling hart")

// StackRegion is the exclusive stack reservation of one hart:
// [Base, Base+Size). Never shared, never resized.
type StackRegion struct {
	Base uintptr
	Size uintptr
}

// Top returns the initial stack pointer for the region, before the entry
// stub's 16-byte alignment.
func (r StackRegion) Top() uintptr { return r.Base + r.Size }

// StackFor returns hart id's region within the reserved area starting at
// base. Ids at or beyond MaxHarts are refused: computing a region for them
// would silently corrupt memory outside the reservation.
func StackFor(base uintptr, id uint64) (StackRegion, error) {
	if id >= MaxHarts {
		return StackRegion{}, ErrHartRange
	}
	return StackRegion{
		Base: base + uintptr(id)*StackSize,
		Size: StackSize,
	}, nil
}
