package sbi

import "unsafe"

// One narrow typed wrapper per standardized firmware function. Each validates
// argument shape before encoding; none retries or interprets the result
// beyond decoding the register pair.

// SpecVersion returns the SBI specification version implemented by the
// firmware (major in bits 24-30, minor in bits 0-23).
func SpecVersion(c Caller) Ret {
	return c.Call(ExtBase, FnBaseGetSpecVersion)
}

// ImplID returns the firmware implementation id (1 is OpenSBI).
func ImplID(c Caller) Ret {
	return c.Call(ExtBase, FnBaseGetImplID)
}

// Probe reports whether the firmware implements the given extension.
func Probe(c Caller, ext uint32) bool {
	r := c.Call(ExtBase, FnBaseProbeExtension, uint64(ext))
	return r.Error == OK && r.Value != 0
}

// HartStart asks the firmware to start the target hart at startAddr with
// opaque in its a1 entry register. On success the request was accepted; the
// target may not be running yet. The firmware guarantees that all memory
// written by the caller before this call is visible to the target hart when
// it begins executing, so no additional fence is needed around it.
func HartStart(c Caller, hartid uint64, startAddr uintptr, opaque uint64) Ret {
	return c.Call(ExtHSM, FnHartStart, hartid, uint64(startAddr), opaque)
}

// HartStop asks the firmware to stop the calling hart. Does not return on
// success.
func HartStop(c Caller) Ret {
	return c.Call(ExtHSM, FnHartStop)
}

// HartStatus returns the HSM state of the target hart (HartStarted,
// HartStopped, ...) in Value.
func HartStatus(c Caller, hartid uint64) Ret {
	return c.Call(ExtHSM, FnHartStatus, hartid)
}

// ConsoleWrite writes p to the firmware debug console. The call blocks until
// the firmware has accepted the bytes. The address is split into lo/hi
// physical halves per the convention; on rv64 the high half is zero.
func ConsoleWrite(c Caller, p []byte) Ret {
	if len(p) == 0 {
		return Ret{}
	}
	addr := uintptr(unsafe.Pointer(&p[0]))
	return c.Call(ExtDebugConsole, FnConsoleWrite, uint64(len(p)), uint64(addr), 0)
}

// ConsoleWriteByte writes a single byte to the firmware debug console.
func ConsoleWriteByte(c Caller, b byte) Ret {
	return c.Call(ExtDebugConsole, FnConsoleWriteByte, uint64(b))
}

// SystemReset requests a platform reset of the given type. Does not return
// on success.
func SystemReset(c Caller, resetType, reason uint32) Ret {
	return c.Call(ExtSystemReset, FnSystemReset, uint64(resetType), uint64(reason))
}

// Shutdown is SystemReset(shutdown, no reason): the halt of last resort
// after a fatal boot error.
func Shutdown(c Caller) Ret {
	return SystemReset(c, ResetTypeShutdown, ResetReasonNone)
}
