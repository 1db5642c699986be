// Package platform supplies the collaborators a recorder needs from the
// system it is embedded in: a free-running counter, the uptime in binary
// time, per-processor critical sections and call-site capture.
//
// A hosted Go program has no interrupts to mask. A processor here is a
// producer lane, and disabling its interrupts means entering the lane's
// critical section.
package platform

// Level is the state returned by Interrupts.Disable and handed back to
// Interrupts.Enable.
type Level uint32

// Interrupts is the local interrupt control of one processor.
type Interrupts interface {
	Disable() Level
	Enable(level Level)
}

// Counter is a free-running, silently wrapping tick counter.
type Counter interface {
	Read() uint32
	Frequency() uint32
}

// Clock provides the uptime as a 32.32 fixed point number of seconds.
type Clock interface {
	Uptime() uint64
}

// CallSite returns an identifier of the code location skip frames above
// its caller.
type CallSite func(skip int) uint64
