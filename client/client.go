// Package client decodes record streams. It accepts the stream in chunks
// of any size, reconstructs the absolute time of every item from the
// uptime markers of its processor and hands each event to a handler.
//
// Items of a processor that arrive before its first uptime marker are held
// back until their time can be resolved.
package client

import (
	"encoding/binary"

	"github.com/jnesss/event-recorder/types"
)

// MaximumCPUCount is the largest processor count a stream may declare.
const MaximumCPUCount = 32

// Default limits of the hold-back storage, in items.
const (
	DefaultHoldBackReallocationLimit = 1 << 20
	DefaultMemoryBudget              = 1 << 22
)

const initialHoldBack = 64

// Event is one decoded item. Time is the absolute 32.32 binary time.
type Event struct {
	Time  uint64
	CPU   uint32
	Event types.Event
	Data  uint64
}

// Seconds returns the integral seconds of the event time.
func (e Event) Seconds() uint32 {
	return uint32(e.Time >> 32)
}

// Nanoseconds returns the fraction of the event time in nanoseconds.
func (e Event) Nanoseconds() uint32 {
	return uint32(((e.Time & 0xffffffff) * 1000000000) >> 32)
}

// Handler receives decoded events. A status other than OK stops decoding
// and is returned by Run from then on.
type Handler func(Event) Status

// Option configures a Client.
type Option func(*Client)

// WithHoldBackReallocationLimit bounds the items held back for one
// processor.
func WithHoldBackReallocationLimit(n int) Option {
	return func(c *Client) {
		c.holdBackLimit = n
	}
}

// WithMemoryBudget bounds the items held back for all processors.
func WithMemoryBudget(n int) Option {
	return func(c *Client) {
		c.memoryBudget = n
	}
}

type state int

const (
	stateFormat state = iota
	stateMagic
	stateItems
)

// Client is the decode state of one stream. It is not safe for concurrent
// use.
type Client struct {
	handler Handler

	state  state
	format types.Format
	status Status
	buf    [16]byte
	todo   int
	pos    int

	cpu             uint32
	cpuMax          uint32
	haveCPUMax      bool
	perCPUCount     uint32
	havePerCPUCount bool
	frequency       uint32
	scaler          uint64

	perCPU [MaximumCPUCount]perCPU

	holdBackLimit int
	memoryBudget  int
	held          int
}

// New returns a client expecting the start of a stream.
func New(handler Handler, opts ...Option) *Client {
	c := &Client{
		handler:       handler,
		todo:          4,
		holdBackLimit: DefaultHoldBackReallocationLimit,
		memoryBudget:  DefaultMemoryBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes buf. It returns OK if all bytes were consumed, otherwise
// the status that stopped decoding. Once an error was returned, Run
// consumes nothing and returns the same status.
func (c *Client) Run(buf []byte) Status {
	for c.status == OK && len(buf) > 0 {
		n := copy(c.buf[c.pos:c.todo], buf)
		c.pos += n
		buf = buf[n:]
		if c.pos < c.todo {
			break
		}
		c.pos = 0
		c.status = c.consume()
	}
	return c.status
}

// Status returns the current decode status.
func (c *Client) Status() Status {
	return c.status
}

// CPU returns the processor of the most recent PROCESSOR item.
func (c *Client) CPU() uint32 {
	return c.cpu
}

// Format returns the stream format, zero until the format tag was read.
func (c *Client) Format() types.Format {
	return c.format
}

// Frequency returns the declared counter frequency.
func (c *Client) Frequency() uint32 {
	return c.frequency
}

// Processors returns the declared processor count.
func (c *Client) Processors() int {
	if !c.haveCPUMax {
		return 0
	}
	return int(c.cpuMax)
}

// Destroy delivers the items still held back, timed relative to the
// oldest held item of their processor, and releases the hold-back
// storage. The client must not be used afterwards.
func (c *Client) Destroy() {
	for cpu := range c.perCPU {
		pc := &c.perCPU[cpu]
		if len(pc.held) > 0 && c.status == OK {
			bts := pc.resolveForwards(c.scaler)
			for i, h := range pc.held {
				if c.deliver(bts[i], uint32(cpu), h.event, h.data) != OK {
					break
				}
			}
		}
		c.held -= len(pc.held)
		pc.held = nil
	}
}

func (c *Client) consume() Status {
	switch c.state {
	case stateFormat:
		// The format tags read the same in both byte orders.
		f := types.Format(binary.LittleEndian.Uint32(c.buf[:4]))
		if !f.Valid() {
			return ErrorUnknownFormat
		}
		c.format = f
		c.state = stateMagic
		c.todo = 4
	case stateMagic:
		if c.format.ByteOrder().Uint32(c.buf[:4]) != types.Magic {
			return ErrorInvalidMagic
		}
		c.state = stateItems
		c.todo = c.format.ItemSize()
	case stateItems:
		return c.visit(c.format.DecodeItem(c.buf[:c.todo]))
	}
	return OK
}

func (c *Client) visit(it types.Item) Status {
	tag := it.Time()
	event := it.Kind()

	switch event {
	case types.EventEmpty:
		return OK
	case types.EventVersion:
		if it.Data != types.TheVersion {
			return ErrorUnsupportedVersion
		}
	case types.EventProcessorMaximum:
		if c.haveCPUMax {
			return ErrorDoubleCPUMax
		}
		if it.Data >= MaximumCPUCount {
			return ErrorUnsupportedCPUMax
		}
		c.cpuMax = uint32(it.Data) + 1
		c.haveCPUMax = true
	case types.EventPerCPUCount:
		if c.havePerCPUCount {
			return ErrorDoublePerCPUCount
		}
		if !c.haveCPUMax {
			return ErrorNoCPUMax
		}
		c.perCPUCount = uint32(it.Data)
		c.havePerCPUCount = true
	case types.EventFrequency:
		c.frequency = uint32(it.Data)
		c.scaler = toBinaryTimeScaler(c.frequency)
	case types.EventProcessor:
		if it.Data >= MaximumCPUCount || (c.haveCPUMax && it.Data >= uint64(c.cpuMax)) {
			return ErrorUnsupportedCPU
		}
		c.cpu = uint32(it.Data)
	}

	if types.IsStreamEvent(event) {
		return c.deliver(0, c.cpu, event, it.Data)
	}

	pc := &c.perCPU[c.cpu]
	if (event == types.EventUptimeLow || event == types.EventUptimeHigh) && pc.takeUptime(event, it.Data) {
		first := !pc.anchored
		pc.setAnchor(tag)
		if first {
			if status := c.flush(pc); status != OK {
				return status
			}
		}
		return c.deliver(pc.anchor, c.cpu, event, it.Data)
	}

	if !pc.anchored {
		return c.hold(pc, tag, event, it.Data)
	}
	pc.advance(tag)
	return c.deliver(pc.now(c.scaler), c.cpu, event, it.Data)
}

func (c *Client) deliver(bt uint64, cpu uint32, event types.Event, data uint64) Status {
	return c.handler(Event{Time: bt, CPU: cpu, Event: event, Data: data})
}

func (c *Client) hold(pc *perCPU, tag uint32, event types.Event, data uint64) Status {
	if len(pc.held) == cap(pc.held) {
		if len(pc.held) >= c.holdBackLimit {
			return ErrorPerCPUItemsOverflow
		}
		n := 2 * cap(pc.held)
		if n < initialHoldBack {
			n = initialHoldBack
		}
		if n > c.holdBackLimit {
			n = c.holdBackLimit
		}
		grown := make([]heldItem, len(pc.held), n)
		copy(grown, pc.held)
		pc.held = grown
	}
	if c.held >= c.memoryBudget {
		return ErrorNoMemory
	}
	pc.held = append(pc.held, heldItem{tag: tag, event: event, data: data})
	c.held++
	return OK
}

// flush delivers the held items of a processor that just got its first
// anchor.
func (c *Client) flush(pc *perCPU) Status {
	bts := pc.resolveBackwards(c.scaler)
	held := pc.held
	c.held -= len(held)
	pc.held = nil
	for i, h := range held {
		if status := c.deliver(bts[i], c.cpu, h.event, h.data); status != OK {
			return status
		}
	}
	return OK
}
