// Package ring implements the per-processor record buffer: a fixed
// capacity circular array of items with a single producer and a single
// draining consumer.
//
// The producer never blocks and never fails. Unread items are overwritten
// when the producer laps the consumer, which the consumer detects by
// comparing head and tail.
package ring

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/jnesss/event-recorder/types"
)

// slot holds one item. seq is the absolute index of the item shifted left
// by one; the low bit is set while the producer rewrites the slot.
type slot struct {
	seq   atomic.Uint64
	event atomic.Uint32
	data  atomic.Uint64
}

// Control is the record buffer of one processor.
type Control struct {
	_    [64]byte
	head atomic.Uint32
	_    [60]byte

	// tail is owned by the drain session.
	tail uint32
	mask uint32
	smp  bool

	items []slot
}

// New creates a buffer for itemCount items. itemCount must be a power of
// two. smp selects the read-modify-write head access needed when the
// buffer is drained from another processor.
func New(itemCount int, smp bool) (*Control, error) {
	if itemCount < 2 || itemCount&(itemCount-1) != 0 {
		return nil, errors.Errorf("item count %d is not a power of two", itemCount)
	}
	if uint64(itemCount) > 1<<31 {
		return nil, errors.Errorf("item count %d is too large", itemCount)
	}
	c := &Control{
		mask:  uint32(itemCount - 1),
		smp:   smp,
		items: make([]slot, itemCount),
	}
	// No slot holds a valid item for index 0 yet.
	for i := range c.items {
		c.items[i].seq.Store(1)
	}
	return c, nil
}

// ItemCount is the number of slots.
func (c *Control) ItemCount() uint32 {
	return c.mask + 1
}

// Mask is ItemCount minus one.
func (c *Control) Mask() uint32 {
	return c.mask
}

// Index maps an absolute index to a slot.
func (c *Control) Index(i uint32) uint32 {
	return i & c.mask
}

// Head returns the published head. On multiprocessor configurations the
// value is obtained by a read-modify-write so that the latest value stored
// by the producing processor is observed.
func (c *Control) Head() uint32 {
	if c.smp {
		return c.head.Add(0)
	}
	return c.head.Load()
}

// Tail returns the consumer cursor.
func (c *Control) Tail() uint32 {
	return c.tail
}

// SetTail moves the consumer cursor. Only the drain session calls it.
func (c *Control) SetTail(tail uint32) {
	c.tail = tail
}

// IsOverflow reports whether the producer overwrote items between tail
// and head.
func (c *Control) IsOverflow(tail, head uint32) bool {
	return head-tail > c.mask+1
}

// Capacity returns the free slots from the producer's point of view.
func (c *Control) Capacity(tail, head uint32) uint32 {
	return (tail - head - 1) & c.mask
}

// Write stores it at the absolute index. The item becomes visible to
// consumers with the next Commit covering the index.
func (c *Control) Write(index uint32, it types.Item) {
	s := &c.items[c.Index(index)]
	seq := uint64(index) << 1
	s.seq.Store(seq | 1)
	s.event.Store(it.Event)
	s.data.Store(it.Data)
	s.seq.Store(seq)
}

// Commit publishes all items written below head.
func (c *Control) Commit(head uint32) {
	c.head.Store(head)
}

// Read copies the item at the absolute index. ok is false if the slot was
// overwritten, or is being overwritten, by a later item.
func (c *Control) Read(index uint32) (it types.Item, ok bool) {
	s := &c.items[c.Index(index)]
	want := uint64(index) << 1
	if s.seq.Load() != want {
		return types.Item{}, false
	}
	it.Event = s.event.Load()
	it.Data = s.data.Load()
	if s.seq.Load() != want {
		return types.Item{}, false
	}
	return it, true
}
