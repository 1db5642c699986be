// Package workload emulates the kernel producers of a recorder: threads
// switching on processors, interrupts and user events.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jnesss/event-recorder/record"
	"github.com/jnesss/event-recorder/types"
)

// FirstThreadID is the identifier of the first emulated thread.
const FirstThreadID = 0x0a010001

// Every lifecycleTicks steps a worker thread is created and the oldest
// worker exits.
const lifecycleTicks = 64

const maxWorkers = 4

// Generator produces a synthetic event load
type Generator struct {
	rec      *record.Recorder
	threads  ThreadTracker
	interval time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	workers []uint32
	nextID  uint32
	ticks   uint64
}

// NewGenerator creates a generator with one idle thread per processor
func NewGenerator(rec *record.Recorder, threads ThreadTracker, interval time.Duration) *Generator {
	g := &Generator{
		rec:      rec,
		threads:  threads,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		nextID:   FirstThreadID,
	}
	for cpu := 0; cpu < rec.Processors(); cpu++ {
		t := g.spawn(fmt.Sprintf("IDLE/%d", cpu), uint32(cpu))
		threads.SetRunning(t.ID)
	}
	return g
}

// Adopt registers existing threads, spreading them over the processors.
// They are announced by the next Snapshot.
func (g *Generator) Adopt(threads []*ThreadInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range threads {
		t.CPU = uint32(i % g.rec.Processors())
		t.StartTime = time.Now()
		g.threads.Add(t)
	}
}

// Spawn creates a thread on cpu and records its creation
func (g *Generator) Spawn(name string, cpu uint32) *ThreadInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spawn(name, cpu)
}

func (g *Generator) spawn(name string, cpu uint32) *ThreadInfo {
	t := &ThreadInfo{
		ID:        g.nextID,
		Name:      name,
		CPU:       cpu,
		Priority:  uint32(g.rng.Intn(255) + 1),
		StartTime: time.Now(),
	}
	g.nextID++
	g.threads.Add(t)
	g.rec.ProduceOn(cpu, types.Item{Event: uint32(types.EventThreadCreate), Data: uint64(t.ID)})
	g.rec.ThreadNameOn(cpu, t.ID, t.Name)
	g.rec.ProduceOn(cpu,
		types.Item{Event: uint32(types.EventThreadStart), Data: uint64(t.ID)},
		types.Item{Event: uint32(types.EventThreadPrioRealLow), Data: uint64(t.Priority)},
	)
	return t
}

// Exit records the termination of a thread and forgets it
func (g *Generator) Exit(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exit(id)
}

func (g *Generator) exit(id uint32) {
	t, ok := g.threads.Remove(id)
	if !ok {
		return
	}
	t.Mu.Lock()
	t.ExitTime = time.Now()
	t.Mu.Unlock()
	g.rec.ProduceOn(t.CPU,
		types.Item{Event: uint32(types.EventThreadExitted), Data: uint64(id)},
		types.Item{Event: uint32(types.EventThreadDelete), Data: uint64(id)},
	)
}

// Snapshot records the names of all live threads, so that a new stream
// client learns them.
func (g *Generator) Snapshot() {
	for _, t := range g.threads.List() {
		g.rec.ThreadNameOn(t.CPU, t.ID, t.Name)
	}
}

// Step advances every processor by one scheduling decision
func (g *Generator) Step() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ticks++
	if g.ticks%lifecycleTicks == 0 {
		cpu := uint32(g.rng.Intn(g.rec.Processors()))
		t := g.spawn(fmt.Sprintf("WORK/%d", g.ticks/lifecycleTicks), cpu)
		g.workers = append(g.workers, t.ID)
		if len(g.workers) > maxWorkers {
			g.exit(g.workers[0])
			g.workers = g.workers[1:]
		}
	}

	for cpu := 0; cpu < g.rec.Processors(); cpu++ {
		g.stepCPU(uint32(cpu))
	}
}

func (g *Generator) stepCPU(cpu uint32) {
	if prev, next, ok := g.threads.Switch(cpu); ok {
		items := make([]types.Item, 0, 2)
		if prev != 0 {
			items = append(items, types.Item{Event: uint32(types.EventThreadSwitchOut), Data: uint64(prev)})
		}
		items = append(items, types.Item{Event: uint32(types.EventThreadSwitchIn), Data: uint64(next)})
		g.rec.ProduceOn(cpu, items...)
	}

	if g.rng.Intn(4) == 0 {
		vector := uint64(g.rng.Intn(32))
		g.rec.ProduceOn(cpu,
			types.Item{Event: uint32(types.EventInterruptBegin), Data: vector},
			types.Item{Event: uint32(types.EventInterruptEnd), Data: vector},
		)
	}
	if g.rng.Intn(8) == 0 {
		g.rec.ProduceOn(cpu, types.Item{Event: uint32(types.User(cpu)), Data: g.ticks})
	}
}

// Start steps the workload until ctx is done
func (g *Generator) Start(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"processors": g.rec.Processors(),
		"interval":   g.interval,
	}).Info("Starting synthetic workload")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Step()
		}
	}
}
