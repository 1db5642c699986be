package record

import (
	"github.com/jnesss/event-recorder/platform"
	"github.com/jnesss/event-recorder/types"
)

// MaxStringLength bounds the bytes recorded by String and ThreadName.
const MaxStringLength = 128

// MaxLineArgs is the number of ARG_n events.
const MaxLineArgs = 10

// Produce records one item on the current processor.
func (r *Recorder) Produce(event types.Event, data uint64) {
	var rc Context
	r.Prepare(&rc)
	rc.Add(event, data)
	rc.Commit()
}

// ProduceN records items as one batch on the current processor. Only the
// kind part of each item's event is used.
func (r *Recorder) ProduceN(items ...types.Item) {
	var rc Context
	r.Prepare(&rc)
	rc.AddItems(items...)
	rc.Commit()
}

// ProduceOn records items as one batch on cpu. Items for a processor
// beyond the configured ones go to processor 0.
func (r *Recorder) ProduceOn(cpu uint32, items ...types.Item) {
	var rc Context
	r.prepareOn(&rc, cpu)
	rc.AddItems(items...)
	rc.Commit()
}

// ProduceCritical records items on cpu from inside the processor's
// critical section.
func (r *Recorder) ProduceCritical(cpu uint32, items ...types.Item) {
	var rc Context
	r.PrepareCritical(&rc, cpu)
	rc.AddItems(items...)
	rc.CommitCritical()
}

func (r *Recorder) addString(rc *Context, event types.Event, s string) {
	if len(s) > MaxStringLength {
		s = s[:MaxStringLength]
	}
	for _, w := range types.PackString(s, r.dataBytes) {
		rc.Add(event, w)
	}
}

// String records s as a run of event items, each carrying DataBytes
// characters.
func (r *Recorder) String(event types.Event, s string) {
	var rc Context
	r.Prepare(&rc)
	r.addString(&rc, event, s)
	rc.Commit()
}

// ThreadName records the name of a thread, a THREAD_ID item followed by
// THREAD_NAME fragments.
func (r *Recorder) ThreadName(id uint32, name string) {
	r.ThreadNameOn(r.current(), id, name)
}

// ThreadNameOn records the name of a thread on cpu, with the processor
// fallback of ProduceOn.
func (r *Recorder) ThreadNameOn(cpu, id uint32, name string) {
	var rc Context
	r.prepareOn(&rc, cpu)
	rc.Add(types.EventThreadID, uint64(id))
	r.addString(&rc, types.EventThreadName, name)
	rc.Commit()
}

// Line records the call site of its caller.
func (r *Recorder) Line() {
	r.Produce(types.EventLine, r.callSite(1))
}

// LineArgs records the call site of its caller followed by up to
// MaxLineArgs ARG_n items.
func (r *Recorder) LineArgs(args ...uint64) {
	line := r.callSite(1)
	var rc Context
	r.Prepare(&rc)
	rc.Add(types.EventLine, line)
	addNumbered(&rc, types.EventArg0, args)
	rc.Commit()
}

// Caller records the return address of the function calling Caller,
// followed by the call site of Caller itself.
func (r *Recorder) Caller() {
	line := r.callSite(1)
	caller := r.callSite(2)
	var rc Context
	r.Prepare(&rc)
	rc.Add(types.EventCaller, caller)
	rc.Add(types.EventLine, line)
	rc.Commit()
}

// CallerArgs records like Caller, followed by up to MaxLineArgs ARG_n
// items.
func (r *Recorder) CallerArgs(args ...uint64) {
	line := r.callSite(1)
	caller := r.callSite(2)
	var rc Context
	r.Prepare(&rc)
	rc.Add(types.EventCaller, caller)
	rc.Add(types.EventLine, line)
	addNumbered(&rc, types.EventArg0, args)
	rc.Commit()
}

// CallerPairs records like Caller, followed by items. Only the kind part
// of each item's event is used.
func (r *Recorder) CallerPairs(items ...types.Item) {
	line := r.callSite(1)
	caller := r.callSite(2)
	var rc Context
	r.Prepare(&rc)
	rc.Add(types.EventCaller, caller)
	rc.Add(types.EventLine, line)
	rc.AddItems(items...)
	rc.Commit()
}

// LinePairs records the call site of its caller followed by items.
func (r *Recorder) LinePairs(items ...types.Item) {
	line := r.callSite(1)
	var rc Context
	r.Prepare(&rc)
	rc.Add(types.EventLine, line)
	rc.AddItems(items...)
	rc.Commit()
}

// Entry records the entry of an instrumented function: event carries the
// return address of the function calling Entry, followed by up to
// MaxLineArgs ARG_n items.
func (r *Recorder) Entry(event types.Event, args ...uint64) {
	caller := r.callSite(2)
	var rc Context
	r.Prepare(&rc)
	rc.Add(event, caller)
	addNumbered(&rc, types.EventArg0, args)
	rc.Commit()
}

// Exit is the counterpart of Entry with RETURN_n items.
func (r *Recorder) Exit(event types.Event, rets ...uint64) {
	caller := r.callSite(2)
	var rc Context
	r.Prepare(&rc)
	rc.Add(event, caller)
	addNumbered(&rc, types.EventReturn0, rets)
	rc.Commit()
}

func addNumbered(rc *Context, first types.Event, values []uint64) {
	if len(values) > MaxLineArgs {
		values = values[:MaxLineArgs]
	}
	for i, v := range values {
		rc.Add(first+types.Event(i), v)
	}
}

// InterruptLevel is the critical section state returned by
// InterruptDisable.
type InterruptLevel struct {
	cpu   uint32
	level platform.Level
}

// InterruptDisable enters the critical section of the current processor
// and records ISR_DISABLE with the call site. InterruptEnable must follow.
func (r *Recorder) InterruptDisable() InterruptLevel {
	line := r.callSite(1)
	cpu := r.current()
	level := r.interrupts[cpu].Disable()
	var rc Context
	r.PrepareCritical(&rc, cpu)
	rc.Add(types.EventISRDisable, line)
	rc.CommitCritical()
	return InterruptLevel{cpu: cpu, level: level}
}

// InterruptEnable records ISR_ENABLE with the call site and leaves the
// critical section entered by InterruptDisable.
func (r *Recorder) InterruptEnable(l InterruptLevel) {
	line := r.callSite(1)
	var rc Context
	r.PrepareCritical(&rc, l.cpu)
	rc.Add(types.EventISREnable, line)
	rc.CommitCritical()
	r.interrupts[l.cpu].Enable(l.level)
}

// SampleUptime records an uptime anchor on every processor. Counter and
// uptime are sampled together, so decoders can convert the time tags of
// the following items.
func (r *Recorder) SampleUptime() {
	for cpu := range r.controls {
		r.sampleUptimeOn(uint32(cpu))
	}
}

func (r *Recorder) sampleUptimeOn(cpu uint32) {
	interrupts := r.interrupts[cpu]
	level := interrupts.Disable()
	counter, uptime := r.sample()
	control := r.controls[cpu]
	rc := Context{
		now:     types.TimeEvent(counter, 0),
		head:    control.Head(),
		control: control,
	}
	rc.Add(types.EventUptimeLow, uptime&0xffffffff)
	rc.Add(types.EventUptimeHigh, uptime>>32)
	rc.CommitCritical()
	interrupts.Enable(level)
}
