// Package sbitest provides an in-memory firmware implementing the subset of
// SBI the boot path uses (BASE, HSM, DBCN, SRST), so the call layer and the
// hart bringup coordinator can be exercised on the host.
package sbitest

import (
	"bytes"
	"sync"
	"unsafe"

	"rvboot/sbi"
)

type hartRecord struct {
	state  uint64 // sbi.HartStarted etc.
	entry  uint64
	opaque uint64
}

// Firmware is a simulated SBI implementation. The zero value is not usable;
// construct with New. All methods are safe for concurrent use, matching the
// real firmware's tolerance of simultaneous calls from different harts.
type Firmware struct {
	mu       sync.Mutex
	harts    []hartRecord
	disabled map[uint32]bool
	out      bytes.Buffer
	resets   int
	calls    int
}

// New returns a firmware managing numHarts harts, with bootHart already in
// the started state (the firmware starts exactly one hart by lottery).
func New(numHarts int, bootHart uint64) *Firmware {
	f := &Firmware{
		harts:    make([]hartRecord, numHarts),
		disabled: make(map[uint32]bool),
	}
	for i := range f.harts {
		f.harts[i].state = sbi.HartStopped
	}
	if int(bootHart) < numHarts {
		f.harts[bootHart].state = sbi.HartStarted
	}
	return f
}

// DisableExtension makes the firmware report ext as unimplemented: probes
// return false and calls into it fail with ErrNotSupported.
func (f *Firmware) DisableExtension(ext uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[ext] = true
}

// Call implements sbi.Caller.
func (f *Firmware) Call(ext, fn uint32, args ...uint64) sbi.Ret {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	var a [6]uint64
	if len(args) > 6 {
		return sbi.Ret{Error: sbi.ErrInvalidParam}
	}
	copy(a[:], args)

	if f.disabled[ext] {
		return sbi.Ret{Error: sbi.ErrNotSupported}
	}

	switch ext {
	case sbi.ExtBase:
		return f.base(fn, a)
	case sbi.ExtHSM:
		return f.hsm(fn, a)
	case sbi.ExtDebugConsole:
		return f.console(fn, a)
	case sbi.ExtSystemReset:
		if fn != sbi.FnSystemReset {
			return sbi.Ret{Error: sbi.ErrNotSupported}
		}
		f.resets++
		return sbi.Ret{}
	}
	return sbi.Ret{Error: sbi.ErrNotSupported}
}

func (f *Firmware) base(fn uint32, a [6]uint64) sbi.Ret {
	switch fn {
	case sbi.FnBaseGetSpecVersion:
		return sbi.Ret{Value: 0x02000000} // 2.0
	case sbi.FnBaseGetImplID:
		return sbi.Ret{Value: 1} // claims OpenSBI
	case sbi.FnBaseGetImplVersion:
		return sbi.Ret{Value: 0x10003}
	case sbi.FnBaseProbeExtension:
		switch uint32(a[0]) {
		case sbi.ExtBase, sbi.ExtHSM, sbi.ExtDebugConsole, sbi.ExtSystemReset:
			if f.disabled[uint32(a[0])] {
				return sbi.Ret{Value: 0}
			}
			return sbi.Ret{Value: 1}
		}
		return sbi.Ret{Value: 0}
	case sbi.FnBaseGetMvendorID, sbi.FnBaseGetMarchID, sbi.FnBaseGetMimpID:
		return sbi.Ret{Value: 0}
	}
	return sbi.Ret{Error: sbi.ErrNotSupported}
}

func (f *Firmware) hsm(fn uint32, a [6]uint64) sbi.Ret {
	switch fn {
	case sbi.FnHartStart:
		id := a[0]
		if id >= uint64(len(f.harts)) {
			return sbi.Ret{Error: sbi.ErrInvalidParam}
		}
		h := &f.harts[id]
		if h.state != sbi.HartStopped {
			return sbi.Ret{Error: sbi.ErrAlreadyStarted}
		}
		h.state = sbi.HartStarted
		h.entry = a[1]
		h.opaque = a[2]
		return sbi.Ret{}
	case sbi.FnHartStatus:
		id := a[0]
		if id >= uint64(len(f.harts)) {
			return sbi.Ret{Error: sbi.ErrInvalidParam}
		}
		return sbi.Ret{Value: f.harts[id].state}
	case sbi.FnHartStop:
		return sbi.Ret{Error: sbi.ErrNotSupported}
	}
	return sbi.Ret{Error: sbi.ErrNotSupported}
}

func (f *Firmware) console(fn uint32, a [6]uint64) sbi.Ret {
	switch fn {
	case sbi.FnConsoleWrite:
		// a0=length, a1=address low, a2=address high. The address is a
		// pointer into the caller's memory, which on the host is our
		// own address space.
		n := a[0]
		if n == 0 {
			return sbi.Ret{}
		}
		p := (*byte)(unsafe.Pointer(uintptr(a[1])))
		f.out.Write(unsafe.Slice(p, n))
		return sbi.Ret{Value: n}
	case sbi.FnConsoleWriteByte:
		f.out.WriteByte(byte(a[0]))
		return sbi.Ret{}
	}
	return sbi.Ret{Error: sbi.ErrNotSupported}
}

// Output returns everything written to the debug console so far.
func (f *Firmware) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

// Started reports whether the given hart is in the started state.
func (f *Firmware) Started(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return id < uint64(len(f.harts)) && f.harts[id].state == sbi.HartStarted
}

// StartedCount returns how many harts are in the started state.
func (f *Firmware) StartedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.harts {
		if h.state == sbi.HartStarted {
			n++
		}
	}
	return n
}

// Entry returns the (entry, opaque) pair recorded when the given hart was
// started through hart_start. Zero for the boot hart.
func (f *Firmware) Entry(id uint64) (entry, opaque uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id >= uint64(len(f.harts)) {
		return 0, 0
	}
	return f.harts[id].entry, f.harts[id].opaque
}

// Resets returns how many system reset requests the firmware received.
func (f *Firmware) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// Calls returns the total number of SBI calls serviced.
func (f *Firmware) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
