package hart

import "rvboot/sbi"

// Coordinator brings secondary harts online through the firmware's hart
// state management extension. It holds no state of its own: the firmware is
// the single source of truth for which harts are running.
//
// Memory ordering: the hart_start call carries the firmware's documented
// guarantee that everything the boot hart wrote before the call is visible
// to the target hart from its first instruction. Callers must finish writing
// anything the secondary hart will read (status flags, shared structures)
// before calling Start; no additional fence is needed or used.
type Coordinator struct {
	FW sbi.Caller

	// Logf, when non-nil, receives one line per bringup event. The boot
	// path wires it to the console; tests usually leave it nil.
	Logf func(format string, args ...interface{})
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// Start requests that target begin executing at entry with opaque in its a1
// register. Starting the calling hart is refused locally without a firmware
// call. Success means the request was accepted, not that the target is
// already running.
func (c *Coordinator) Start(self, target uint64, entry uintptr, opaque uint64) error {
	if target == self {
		return ErrSelfStart
	}
	return sbi.HartStart(c.FW, target, entry, opaque).Err()
}

// StartAll requests a start for every hart id in [0, n) except self, at
// entry with opaque. Individual failures are logged and skipped: a hart the
// platform does not expose reports invalid-param or not-supported, and one
// that is already running reports already-started; neither should abort the
// rest of the bringup. Returns the number of harts whose start request was
// accepted.
func (c *Coordinator) StartAll(self uint64, n int, entry uintptr, opaque uint64) int {
	started := 0
	for id := uint64(0); id < uint64(n); id++ {
		if id == self {
			continue
		}
		ret := sbi.HartStart(c.FW, id, entry, opaque)
		switch ret.Error {
		case sbi.OK:
			started++
		case sbi.ErrAlreadyStarted, sbi.ErrAlreadyAvailable:
			// OpenSBI reports ALREADY_AVAILABLE, SBI 2.0 names
			// ALREADY_STARTED. Either way the hart is running.
			c.logf("hart %d already running\n", id)
		default:
			c.logf("hart %d not started: %s\n", id, ret.Error.Error())
		}
	}
	return started
}
