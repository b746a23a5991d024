// Package console is the diagnostics sink: a raw, blocking byte-write path
// used for status lines and panics. There are no levels and no buffering;
// each Printf hands the sink one finished line so output from different
// harts interleaves on line boundaries at worst.
package console

import "rvboot/sbi"

// Sink accepts bytes synchronously. Implementations block until the
// transport has taken the bytes and drop them if it never can; they must not
// fail recursively.
type Sink interface {
	WriteBytes(p []byte)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p []byte)

func (f SinkFunc) WriteBytes(p []byte) { f(p) }

// SBI writes through the firmware debug console extension. If the firmware
// rejects a write the bytes are dropped; there is nowhere else to report to.
type SBI struct {
	FW sbi.Caller
}

func (s *SBI) WriteBytes(p []byte) {
	sbi.ConsoleWrite(s.FW, p)
}

var sink Sink

// SetSink installs the output sink. Until one is set, output is dropped.
func SetSink(s Sink) { sink = s }
