//go:build riscv64

package main

import (
	"sync/atomic"
	"unsafe"

	"rvboot/console"
	"rvboot/dtb"
	"rvboot/hart"
	"rvboot/sbi"
)

// Reserved stack space for every hart, indexed by hart id. The entry stub
// hands each hart the top of its slice before any Go code runs, aligning it
// down to 16 per the calling convention.
var stacks [hart.MaxHarts * hart.StackSize]byte

// booted elects the boot hart. The firmware picks which hart runs first by
// lottery, so hart id 0 must not be assumed; the first hart through this CAS
// does the one-time work.
var booted uint32

// entry is the reset stub in entry_riscv64.s: the firmware jumps here on
// every hart with the hart id in a0 and the device tree pointer in a1.
func entry()

// entryPC returns entry's address, handed to hart_start so secondary harts
// come up through the same stack setup.
func entryPC() uintptr

// kmain is called by the entry stub once the hart has a stack. When it
// returns, the stub parks the hart in wfi.
func kmain(id uint64, dtbp uintptr) {
	fw := sbi.Firmware()

	if !atomic.CompareAndSwapUint32(&booted, 0, 1) {
		// Secondary path: stack is up, nothing left to discover. The
		// boot hart's writes, the console sink included, are visible
		// here by the hart_start ordering guarantee.
		console.Printf("hart %d up\n", id)
		return
	}

	// Exactly one hart is running this early, so installing the sink
	// here is unsynchronized by construction. A firmware without the
	// debug console gets no sink; output is dropped at Printf, which is
	// all a console-less machine can offer.
	if sbi.Probe(fw, sbi.ExtDebugConsole) {
		console.SetSink(&console.SBI{FW: fw})
	}
	console.Printf("\nrvboot: boot hart %d\n", id)

	region, err := hart.StackFor(uintptr(unsafe.Pointer(&stacks[0])), id)
	if err != nil {
		// Continuing would mean running on memory reserved for
		// another hart.
		fatal(fw, "boot contract: hart %d: %s", id, err)
	}
	console.Printf("hart %d stack %x..%x\n", id, region.Base, region.Top())

	blob, err := dtb.FromPointer(dtbp)
	if err != nil {
		fatal(fw, "device tree: %s", err)
	}
	if model := blob.Model(); model != "" {
		console.Printf("model: %s\n", model)
	}
	regions, err := blob.MemoryRegions()
	if err != nil {
		fatal(fw, "device tree: %s", err)
	}
	if len(regions) == 0 {
		fatal(fw, "device tree: no memory regions")
	}
	for _, r := range regions {
		console.Printf("memory %x size %x\n", r.Start, r.Size)
	}

	ncpu := blob.NumCPUs()
	console.Printf("cpus: %d\n", ncpu)
	if ncpu > hart.MaxHarts {
		console.Printf("limiting bringup to %d harts\n", hart.MaxHarts)
		ncpu = hart.MaxHarts
	}

	if !sbi.Probe(fw, sbi.ExtHSM) {
		console.Printf("firmware lacks HSM, staying single-hart\n")
		return
	}
	coord := hart.Coordinator{FW: fw, Logf: console.Printf}
	// Pass opaque=0: secondary harts must not touch the blob pointer, so
	// a stray dereference faults loudly instead of reading stale data.
	started := coord.StartAll(id, ncpu, entryPC(), 0)
	console.Printf("started %d secondary harts\n", started)
}

// fatal reports an unrecoverable boot failure and halts this hart. Shutdown
// is the polite way out; if the firmware will not take it, spin.
func fatal(fw sbi.Caller, format string, args ...interface{}) {
	console.Printf("fatal: "+format+"\n", args...)
	sbi.SystemReset(fw, sbi.ResetTypeShutdown, sbi.ResetReasonSystemFailure)
	for {
	}
}

// The image enters through the stub, not main; this satisfies the linker.
func main() {}
