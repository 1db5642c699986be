//go:build linux

package platform

import (
	"golang.org/x/sys/unix"
)

// monotonicNanoseconds reads CLOCK_MONOTONIC_RAW, which is not slewed by
// NTP and therefore behaves like a hardware counter.
func monotonicNanoseconds() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return fallbackNanoseconds()
	}
	return uint64(ts.Sec)*nsPerSecond + uint64(ts.Nsec)
}
