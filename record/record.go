// Package record is the producer side of the event recorder. Kernel-like
// code appends timestamped items to the record buffer of the processor it
// runs on; a drain session fetches them for transmission.
//
// The per-processor buffers are owned by the embedding system and handed
// to New; the Recorder keeps no state beyond them.
package record

import (
	"github.com/pkg/errors"

	"github.com/jnesss/event-recorder/platform"
	"github.com/jnesss/event-recorder/ring"
)

// Configuration describes the processors and collaborators of a recorder.
type Configuration struct {
	// Controls holds one record buffer per processor.
	Controls []*ring.Control

	// Interrupts holds the local interrupt control of each processor. If
	// nil, every processor gets a lane lock.
	Interrupts []platform.Interrupts

	Counter platform.Counter

	// Clock provides the uptime for anchor events. If it also implements
	// Sampler, counter and uptime are read together.
	Clock platform.Clock

	// CurrentCPU identifies the processor of the caller. If nil, all
	// producers use processor 0.
	CurrentCPU func() uint32

	// CallSite captures return addresses for the line and caller events.
	// Defaults to platform.HostCallSite.
	CallSite platform.CallSite

	// DataBytes is the width of item data, 4 or 8. Defaults to 8.
	DataBytes int
}

// Sampler reads counter and uptime at the same instant.
type Sampler interface {
	Sample() (counter uint32, uptime uint64)
}

// Recorder appends items to per-processor record buffers.
type Recorder struct {
	controls   []*ring.Control
	interrupts []platform.Interrupts
	counter    platform.Counter
	clock      platform.Clock
	currentCPU func() uint32
	callSite   platform.CallSite
	dataBytes  int
	itemCount  uint32
}

// New validates the configuration and returns a recorder.
func New(cfg Configuration) (*Recorder, error) {
	if len(cfg.Controls) == 0 {
		return nil, errors.New("no record buffers configured")
	}
	if cfg.Counter == nil {
		return nil, errors.New("no counter configured")
	}
	r := &Recorder{
		controls:   cfg.Controls,
		interrupts: cfg.Interrupts,
		counter:    cfg.Counter,
		clock:      cfg.Clock,
		currentCPU: cfg.CurrentCPU,
		callSite:   cfg.CallSite,
		dataBytes:  cfg.DataBytes,
	}
	for i, c := range r.controls {
		if c == nil {
			return nil, errors.Errorf("processor %d has no record buffer", i)
		}
		if c.ItemCount() > r.itemCount {
			r.itemCount = c.ItemCount()
		}
	}
	if r.interrupts == nil {
		r.interrupts = platform.NewLaneLocks(len(r.controls))
	}
	if len(r.interrupts) != len(r.controls) {
		return nil, errors.Errorf("%d interrupt controls for %d processors", len(r.interrupts), len(r.controls))
	}
	if r.currentCPU == nil {
		r.currentCPU = func() uint32 { return 0 }
	}
	if r.callSite == nil {
		r.callSite = platform.HostCallSite
	}
	switch r.dataBytes {
	case 0:
		r.dataBytes = 8
	case 4, 8:
	default:
		return nil, errors.Errorf("unsupported data width %d", r.dataBytes)
	}
	return r, nil
}

// Processors returns the number of processors.
func (r *Recorder) Processors() int {
	return len(r.controls)
}

// Control returns the record buffer of a processor.
func (r *Recorder) Control(cpu uint32) *ring.Control {
	return r.controls[cpu]
}

// ItemCount is the largest per-processor item count.
func (r *Recorder) ItemCount() uint32 {
	return r.itemCount
}

// Frequency is the counter frequency in Hz.
func (r *Recorder) Frequency() uint32 {
	return r.counter.Frequency()
}

// DataBytes is the width of item data.
func (r *Recorder) DataBytes() int {
	return r.dataBytes
}

func (r *Recorder) current() uint32 {
	return r.lane(r.currentCPU())
}

// lane maps processors without a record buffer to processor 0.
func (r *Recorder) lane(cpu uint32) uint32 {
	if int(cpu) >= len(r.controls) {
		return 0
	}
	return cpu
}

func (r *Recorder) sample() (uint32, uint64) {
	if s, ok := r.clock.(Sampler); ok {
		return s.Sample()
	}
	counter := r.counter.Read()
	var uptime uint64
	if r.clock != nil {
		uptime = r.clock.Uptime()
	}
	return counter, uptime
}
