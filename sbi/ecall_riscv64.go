//go:build riscv64

package sbi

type platformCaller struct{}

// ecall is implemented in sbi_riscv64.s. It loads the SBI register
// convention (a7=ext, a6=fn, a0-a5=args) and traps into the firmware.
// Control returns only after the firmware has serviced the request.
func ecall(ext, fn uint32, a0, a1, a2, a3, a4, a5 uint64) (code int64, value uint64)
