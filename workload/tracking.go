package workload

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
)

// ThreadMap is the emulated scheduler state: the live threads, the
// threads assigned to each processor in ID order, and the thread each
// processor runs.
type ThreadMap struct {
	mu      sync.RWMutex
	threads map[uint32]*ThreadInfo
	queues  map[uint32][]uint32
	running map[uint32]uint32
}

// NewThreadMap returns an empty thread map
func NewThreadMap() *ThreadMap {
	return &ThreadMap{
		threads: make(map[uint32]*ThreadInfo),
		queues:  make(map[uint32][]uint32),
		running: make(map[uint32]uint32),
	}
}

// Add assigns a thread to the processor named by its CPU field. A thread
// added again moves to its new processor.
func (tm *ThreadMap) Add(t *ThreadInfo) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if old, ok := tm.threads[t.ID]; ok {
		tm.dequeue(old.CPU, t.ID)
	}
	tm.threads[t.ID] = t
	q := tm.queues[t.CPU]
	i := sort.Search(len(q), func(i int) bool { return q[i] >= t.ID })
	q = append(q, 0)
	copy(q[i+1:], q[i:])
	q[i] = t.ID
	tm.queues[t.CPU] = q
}

// Get looks up a live thread
func (tm *ThreadMap) Get(id uint32) (*ThreadInfo, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.threads[id]
	return t, ok
}

// Remove takes a thread off its processor. A running thread leaves its
// processor without a running thread until the next switch.
func (tm *ThreadMap) Remove(id uint32) (*ThreadInfo, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.threads[id]
	if !ok {
		return nil, false
	}
	delete(tm.threads, id)
	tm.dequeue(t.CPU, id)
	if tm.running[t.CPU] == id {
		delete(tm.running, t.CPU)
	}
	return t, true
}

func (tm *ThreadMap) dequeue(cpu, id uint32) {
	q := tm.queues[cpu]
	for i, qid := range q {
		if qid == id {
			tm.queues[cpu] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// List returns all threads ordered by ID
func (tm *ThreadMap) List() []*ThreadInfo {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	threads := make([]*ThreadInfo, 0, len(tm.threads))
	for _, t := range tm.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads
}

// OnCPU returns the threads assigned to cpu ordered by ID
func (tm *ThreadMap) OnCPU(cpu uint32) []*ThreadInfo {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	q := tm.queues[cpu]
	threads := make([]*ThreadInfo, len(q))
	for i, id := range q {
		threads[i] = tm.threads[id]
	}
	return threads
}

// Running returns the thread running on cpu, 0 if there is none.
func (tm *ThreadMap) Running(cpu uint32) uint32 {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running[cpu]
}

// SetRunning makes id the running thread of its processor.
func (tm *ThreadMap) SetRunning(id uint32) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t, ok := tm.threads[id]; ok {
		tm.running[t.CPU] = id
	}
}

// Switch moves cpu on to the thread following the running one in ID
// order and counts the switch on the new thread. It reports false when
// the processor keeps its thread or has none.
func (tm *ThreadMap) Switch(cpu uint32) (prev, next uint32, ok bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	q := tm.queues[cpu]
	if len(q) == 0 {
		return 0, 0, false
	}
	prev = tm.running[cpu]
	next = q[0]
	for i, id := range q {
		if id == prev {
			next = q[(i+1)%len(q)]
			break
		}
	}
	if next == prev {
		return prev, next, false
	}
	tm.running[cpu] = next
	t := tm.threads[next]
	t.Mu.Lock()
	t.Switches++
	t.Mu.Unlock()
	return prev, next, true
}

// HostThreads lists the threads of this process with their kernel names.
// It returns nil where /proc is not available.
func HostThreads() []*ThreadInfo {
	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return nil
	}
	var threads []*ThreadInfo
	for _, entry := range entries {
		tid, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		comm, err := readTaskFile(uint32(tid), "comm")
		if err != nil {
			continue
		}
		threads = append(threads, &ThreadInfo{ID: uint32(tid), Name: comm})
	}
	return threads
}

// readTaskFile reads a file of one of our tasks and returns its contents
func readTaskFile(tid uint32, filename string) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/self/task/%d/%s", tid, filename))
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(data)), nil
}
