package types

import (
	"encoding/binary"
)

// Bit layout of the packed time/event word
const (
	EventBits = 10
	EventMask = (1 << EventBits) - 1
	TimeBits  = 32 - EventBits
	TimeMask  = (1 << TimeBits) - 1
)

// Magic identifies a record stream. It follows the format tag and is
// written in the byte order of the stream.
const Magic = 0x82e14ec1

// TheVersion is the stream version produced and accepted by this module.
const TheVersion = 6

// InfoItems is the size of the free-form info table in the stream header.
const InfoItems = 64

// Item is one recorded event. Event packs the relative time tag and the
// event kind, see TimeEvent.
type Item struct {
	Event uint32
	Data  uint64
}

// TimeEvent packs a relative time tag and an event kind. Only the low
// TimeBits of time survive.
func TimeEvent(time uint32, event Event) uint32 {
	return time<<EventBits | uint32(event)
}

// GetTime returns the relative time tag of a packed time/event word.
func GetTime(timeEvent uint32) uint32 {
	return timeEvent >> EventBits
}

// GetEvent returns the event kind of a packed time/event word.
func GetEvent(timeEvent uint32) Event {
	return Event(timeEvent & EventMask)
}

// Kind returns the event kind of the item.
func (it Item) Kind() Event {
	return GetEvent(it.Event)
}

// Time returns the relative time tag of the item.
func (it Item) Time() uint32 {
	return GetTime(it.Event)
}

// Format selects item width and byte order of a stream.
type Format uint32

const (
	Format32LE Format = 0x11111111
	Format64LE Format = 0x22222222
	Format32BE Format = 0x33333333
	Format64BE Format = 0x44444444
)

// Valid reports whether f is one of the known format tags.
func (f Format) Valid() bool {
	switch f {
	case Format32LE, Format64LE, Format32BE, Format64BE:
		return true
	}
	return false
}

// ByteOrder returns the byte order of the format.
func (f Format) ByteOrder() binary.ByteOrder {
	if f == Format32BE || f == Format64BE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Is64 reports whether items carry 64-bit data.
func (f Format) Is64() bool {
	return f == Format64LE || f == Format64BE
}

// ItemSize is the encoded size of one item. 64-bit items keep the natural
// alignment of the data member, so four padding bytes follow the event.
func (f Format) ItemSize() int {
	if f.Is64() {
		return 16
	}
	return 8
}

func (f Format) String() string {
	switch f {
	case Format32LE:
		return "32le"
	case Format64LE:
		return "64le"
	case Format32BE:
		return "32be"
	case Format64BE:
		return "64be"
	}
	return "unknown"
}

// ParseFormat maps the names returned by Format.String back to formats.
func ParseFormat(name string) (Format, bool) {
	for _, f := range []Format{Format32LE, Format64LE, Format32BE, Format64BE} {
		if f.String() == name {
			return f, true
		}
	}
	return 0, false
}

// AppendItem appends the wire encoding of it to dst. Data is truncated to
// 32 bits for 32-bit formats.
func (f Format) AppendItem(dst []byte, it Item) []byte {
	order := f.ByteOrder()
	var b [16]byte
	order.PutUint32(b[0:4], it.Event)
	if f.Is64() {
		order.PutUint64(b[8:16], it.Data)
		return append(dst, b[:16]...)
	}
	order.PutUint32(b[4:8], uint32(it.Data))
	return append(dst, b[:8]...)
}

// DecodeItem decodes one item from b, which must hold ItemSize bytes.
func (f Format) DecodeItem(b []byte) Item {
	order := f.ByteOrder()
	if f.Is64() {
		return Item{Event: order.Uint32(b[0:4]), Data: order.Uint64(b[8:16])}
	}
	return Item{Event: order.Uint32(b[0:4]), Data: uint64(order.Uint32(b[4:8]))}
}
