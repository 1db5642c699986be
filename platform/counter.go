package platform

import (
	"math/bits"
	"runtime"
)

const nsPerSecond = 1000000000

// HostClock derives the recorder counter and the uptime from the raw
// monotonic clock of the host, so that both describe the same timeline.
type HostClock struct {
	frequency uint32
	start     uint64
}

// NewHostClock returns a clock whose counter ticks frequency times per
// second. The uptime starts at zero.
func NewHostClock(frequency uint32) *HostClock {
	if frequency == 0 {
		frequency = 1000000
	}
	return &HostClock{frequency: frequency, start: monotonicNanoseconds()}
}

// Frequency implements Counter.
func (c *HostClock) Frequency() uint32 {
	return c.frequency
}

// Read implements Counter.
func (c *HostClock) Read() uint32 {
	return uint32(c.ticks(monotonicNanoseconds() - c.start))
}

// Uptime implements Clock.
func (c *HostClock) Uptime() uint64 {
	return NanosecondsToBinaryTime(monotonicNanoseconds() - c.start)
}

// Sample reads counter and uptime from one clock reading.
func (c *HostClock) Sample() (counter uint32, uptime uint64) {
	ns := monotonicNanoseconds() - c.start
	return uint32(c.ticks(ns)), NanosecondsToBinaryTime(ns)
}

func (c *HostClock) ticks(ns uint64) uint64 {
	hi, lo := bits.Mul64(ns, uint64(c.frequency))
	q, _ := bits.Div64(hi, lo, nsPerSecond)
	return q
}

// NanosecondsToBinaryTime converts nanoseconds to 32.32 binary time.
func NanosecondsToBinaryTime(ns uint64) uint64 {
	sec := ns / nsPerSecond
	frac := ns % nsPerSecond
	return sec<<32 | (frac<<32)/nsPerSecond
}

// BinaryTimeToNanoseconds converts 32.32 binary time to nanoseconds.
func BinaryTimeToNanoseconds(bt uint64) uint64 {
	sec := bt >> 32
	frac := bt & 0xffffffff
	return sec*nsPerSecond + (frac*nsPerSecond)>>32
}

// HostCallSite reports the program counter of the frame skip levels above
// its caller.
func HostCallSite(skip int) uint64 {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0
	}
	return uint64(pcs[0])
}
