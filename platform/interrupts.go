package platform

import (
	"sync"
)

// LaneLock is the critical section of one producer lane. Disable blocks
// until no other producer of the lane is inside its critical section.
// It does not nest: code already inside the section uses the critical
// variants of the producer API.
type LaneLock struct {
	mu    sync.Mutex
	depth uint32
}

// Disable implements Interrupts.
func (l *LaneLock) Disable() Level {
	l.mu.Lock()
	l.depth++
	return Level(l.depth - 1)
}

// Enable implements Interrupts.
func (l *LaneLock) Enable(level Level) {
	l.depth = uint32(level)
	l.mu.Unlock()
}

// NewLaneLocks returns one lane lock per processor.
func NewLaneLocks(processors int) []Interrupts {
	locks := make([]Interrupts, processors)
	for i := range locks {
		locks[i] = &LaneLock{}
	}
	return locks
}
