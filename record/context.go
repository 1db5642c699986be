package record

import (
	"github.com/jnesss/event-recorder/platform"
	"github.com/jnesss/event-recorder/ring"
	"github.com/jnesss/event-recorder/types"
)

// Context stages a batch of items that share one time tag. The batch
// becomes visible to consumers in one step when it is committed.
type Context struct {
	now        uint32
	head       uint32
	control    *ring.Control
	interrupts platform.Interrupts
	level      platform.Level
}

// Prepare enters the critical section of the current processor and
// starts a batch. Commit must follow.
func (r *Recorder) Prepare(rc *Context) {
	r.prepareOn(rc, r.current())
}

func (r *Recorder) prepareOn(rc *Context, cpu uint32) {
	cpu = r.lane(cpu)
	interrupts := r.interrupts[cpu]
	level := interrupts.Disable()
	r.PrepareCritical(rc, cpu)
	rc.interrupts = interrupts
	rc.level = level
}

// PrepareCritical starts a batch on cpu. The caller is already inside the
// processor's critical section and ends the batch with CommitCritical.
// A cpu beyond the configured processors selects processor 0.
func (r *Recorder) PrepareCritical(rc *Context, cpu uint32) {
	control := r.controls[r.lane(cpu)]
	rc.control = control
	rc.head = control.Head()
	rc.now = types.TimeEvent(r.counter.Read(), 0)
	rc.interrupts = nil
}

// Add stages one item.
func (rc *Context) Add(event types.Event, data uint64) {
	rc.control.Write(rc.head, types.Item{
		Event: rc.now | uint32(event&types.EventMask),
		Data:  data,
	})
	rc.head++
}

// AddItems stages items, using only the kind of each item's event.
func (rc *Context) AddItems(items ...types.Item) {
	for _, it := range items {
		rc.Add(types.GetEvent(it.Event), it.Data)
	}
}

// CommitCritical publishes the batch.
func (rc *Context) CommitCritical() {
	rc.control.Commit(rc.head)
}

// Commit publishes the batch and leaves the critical section entered by
// Prepare.
func (rc *Context) Commit() {
	rc.control.Commit(rc.head)
	if rc.interrupts != nil {
		interrupts := rc.interrupts
		rc.interrupts = nil
		interrupts.Enable(rc.level)
	}
}
