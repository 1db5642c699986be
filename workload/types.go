package workload

import (
	"sync"
	"time"
)

// ThreadInfo describes one emulated thread
type ThreadInfo struct {
	Mu sync.RWMutex // Protects Switches and ExitTime

	ID       uint32
	Name     string
	CPU      uint32
	Priority uint32

	StartTime time.Time
	ExitTime  time.Time
	Switches  uint64
}

// ThreadTracker is the scheduler state a Generator drives
type ThreadTracker interface {
	Add(t *ThreadInfo)
	Get(id uint32) (*ThreadInfo, bool)
	Remove(id uint32) (*ThreadInfo, bool)
	List() []*ThreadInfo
	SetRunning(id uint32)
	Switch(cpu uint32) (prev, next uint32, ok bool)
}
