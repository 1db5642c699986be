package client

import (
	"math/bits"

	"github.com/jnesss/event-recorder/types"
)

// toBinaryTimeScaler returns ceil(2^63 / frequency). Multiplying a tick
// count by it and shifting right by 31 yields 32.32 binary time.
func toBinaryTimeScaler(frequency uint32) uint64 {
	if frequency == 0 {
		return 0
	}
	const half = uint64(1) << 63
	f := uint64(frequency)
	q := half / f
	if half%f != 0 {
		q++
	}
	return q
}

// scale converts ticks to binary time.
func scale(ticks, scaler uint64) uint64 {
	hi, lo := bits.Mul64(ticks, scaler)
	return hi<<33 | lo>>31
}

// perCPU is the decode state of one processor.
type perCPU struct {
	anchored bool
	anchor   uint64

	low, high         uint32
	haveLow, haveHigh bool

	timeLast        uint32
	timeAccumulated uint64

	held []heldItem
}

type heldItem struct {
	tag   uint32
	event types.Event
	data  uint64
}

// takeUptime records one half of an uptime marker and reports whether the
// marker is now complete.
func (pc *perCPU) takeUptime(event types.Event, data uint64) bool {
	if event == types.EventUptimeLow {
		pc.low = uint32(data)
		pc.haveLow = true
	} else {
		pc.high = uint32(data)
		pc.haveHigh = true
	}
	return pc.haveLow && pc.haveHigh
}

// setAnchor starts a new time base at the tag of the completing marker.
func (pc *perCPU) setAnchor(tag uint32) {
	pc.anchor = uint64(pc.high)<<32 | uint64(pc.low)
	pc.anchored = true
	pc.haveLow = false
	pc.haveHigh = false
	pc.timeLast = tag
	pc.timeAccumulated = 0
}

// advance accounts the ticks since the last tag. A zero tag carries no
// time, as used by the per-processor stream markers.
func (pc *perCPU) advance(tag uint32) {
	if tag == 0 {
		return
	}
	pc.timeAccumulated += uint64((tag - pc.timeLast) & types.TimeMask)
	pc.timeLast = tag
}

func (pc *perCPU) now(scaler uint64) uint64 {
	return pc.anchor + scale(pc.timeAccumulated, scaler)
}

// resolveBackwards computes the binary time of each held item from the
// anchor, walking from the newest item to the oldest.
func (pc *perCPU) resolveBackwards(scaler uint64) []uint64 {
	bts := make([]uint64, len(pc.held))
	last := pc.timeLast
	var ticks uint64
	for i := len(pc.held) - 1; i >= 0; i-- {
		if tag := pc.held[i].tag; tag != 0 {
			ticks += uint64((last - tag) & types.TimeMask)
			last = tag
		}
		if d := scale(ticks, scaler); d < pc.anchor {
			bts[i] = pc.anchor - d
		}
	}
	return bts
}

// resolveForwards computes times relative to the oldest held item, for
// items that never saw an anchor.
func (pc *perCPU) resolveForwards(scaler uint64) []uint64 {
	bts := make([]uint64, len(pc.held))
	var last uint32
	var ticks uint64
	started := false
	for i, h := range pc.held {
		if h.tag != 0 {
			if started {
				ticks += uint64((h.tag - last) & types.TimeMask)
			}
			last = h.tag
			started = true
		}
		bts[i] = scale(ticks, scaler)
	}
	return bts
}
