// Package sbi implements the supervisor binary interface call layer: the
// register-level calling convention used to request runtime services from the
// firmware that booted us (OpenSBI on qemu-virt).
//
// A call places the extension id in a7, the function id in a6 and up to six
// arguments in a0-a5, executes ecall, and reads back (error, value) from
// a0/a1. The layer is stateless and reentrant; harts may call concurrently.
// Failures come back as an Errno, never as a panic.
package sbi

// Extension ids. The printable ones spell their extension name in ASCII.
const (
	ExtBase         = 0x10
	ExtTimer        = 0x54494D45 // "TIME"
	ExtIPI          = 0x735049   // "sPI"
	ExtRFence       = 0x52464E43 // "RFNC"
	ExtHSM          = 0x48534D   // "HSM"
	ExtSystemReset  = 0x53525354 // "SRST"
	ExtDebugConsole = 0x4442434E // "DBCN"
)

// Base extension function ids.
const (
	FnBaseGetSpecVersion = 0
	FnBaseGetImplID      = 1
	FnBaseGetImplVersion = 2
	FnBaseProbeExtension = 3
	FnBaseGetMvendorID   = 4
	FnBaseGetMarchID     = 5
	FnBaseGetMimpID      = 6
)

// Hart state management function ids.
const (
	FnHartStart  = 0
	FnHartStop   = 1
	FnHartStatus = 2
)

// Debug console function ids.
const (
	FnConsoleWrite     = 0
	FnConsoleRead      = 1
	FnConsoleWriteByte = 2
)

// System reset function ids and arguments.
const (
	FnSystemReset = 0

	ResetTypeShutdown   = 0
	ResetTypeColdReboot = 1
	ResetTypeWarmReboot = 2

	ResetReasonNone          = 0
	ResetReasonSystemFailure = 1
)

// Hart states reported by FnHartStatus.
const (
	HartStarted      = 0
	HartStopped      = 1
	HartStartPending = 2
	HartStopPending  = 3
)

// Errno is the standardized error code returned in a0 by every SBI call.
type Errno int64

const (
	OK                  Errno = 0
	ErrFailed           Errno = -1
	ErrNotSupported     Errno = -2
	ErrInvalidParam     Errno = -3
	ErrDenied           Errno = -4
	ErrInvalidAddress   Errno = -5
	ErrAlreadyAvailable Errno = -6
	ErrAlreadyStarted   Errno = -7
	ErrAlreadyStopped   Errno = -8
	ErrNoSharedMemory   Errno = -9
)

func (e Errno) Error() string {
	switch e {
	case OK:
		return "success"
	case ErrFailed:
		return "failed"
	case ErrNotSupported:
		return "not supported"
	case ErrInvalidParam:
		return "invalid parameter"
	case ErrDenied:
		return "denied"
	case ErrInvalidAddress:
		return "invalid address"
	case ErrAlreadyAvailable:
		return "already available"
	case ErrAlreadyStarted:
		return "already started"
	case ErrAlreadyStopped:
		return "already stopped"
	case ErrNoSharedMemory:
		return "no shared memory"
	}
	return "unknown SBI error"
}

// Ret is the (a0, a1) result pair of an SBI call.
type Ret struct {
	Error Errno
	Value uint64
}

// Err returns nil on success, the Errno otherwise.
func (r Ret) Err() error {
	if r.Error == OK {
		return nil
	}
	return r.Error
}

// Caller issues SBI calls. The firmware itself implements it on the target;
// tests substitute a simulated firmware.
type Caller interface {
	Call(ext, fn uint32, args ...uint64) Ret
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ext, fn uint32, args ...uint64) Ret

func (f CallerFunc) Call(ext, fn uint32, args ...uint64) Ret {
	return f(ext, fn, args...)
}

// Firmware returns the platform firmware. On riscv64 its Call traps into the
// machine-mode firmware with ecall; elsewhere every call reports
// ErrNotSupported, since no firmware exists to service it.
func Firmware() Caller {
	return platformCaller{}
}

func (platformCaller) Call(ext, fn uint32, args ...uint64) Ret {
	if len(args) > 6 {
		// The convention has six argument registers. Refuse rather
		// than silently truncate.
		return Ret{Error: ErrInvalidParam}
	}
	var a [6]uint64
	copy(a[:], args)
	code, value := ecall(ext, fn, a[0], a[1], a[2], a[3], a[4], a[5])
	return Ret{Error: Errno(code), Value: value}
}
