//go:build !riscv64

package sbi

type platformCaller struct{}

// There is no firmware to trap into on a hosted build; every service is
// reported as unimplemented. Tests substitute sbitest.Firmware instead.
func ecall(ext, fn uint32, a0, a1, a2, a3, a4, a5 uint64) (code int64, value uint64) {
	return int64(ErrNotSupported), 0
}
