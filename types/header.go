package types

// StreamHeader is the preamble of a record stream. Every field after the
// magic is encoded as a regular item, so decoders process the header with
// the same code as the event stream.
type StreamHeader struct {
	Format           Format
	ProcessorMaximum uint32
	PerCPUCount      uint32
	Frequency        uint32
	Info             []Item
}

// Items returns the header items in stream order. Info items beyond
// InfoItems are dropped, missing ones are EMPTY holes.
func (h *StreamHeader) Items() []Item {
	items := make([]Item, 0, 4+InfoItems)
	items = append(items,
		Item{Event: TimeEvent(0, EventVersion), Data: TheVersion},
		Item{Event: TimeEvent(0, EventProcessorMaximum), Data: uint64(h.ProcessorMaximum)},
		Item{Event: TimeEvent(0, EventPerCPUCount), Data: uint64(h.PerCPUCount)},
		Item{Event: TimeEvent(0, EventFrequency), Data: uint64(h.Frequency)},
	)
	for i := 0; i < InfoItems; i++ {
		if i < len(h.Info) {
			items = append(items, h.Info[i])
		} else {
			items = append(items, Item{})
		}
	}
	return items
}

// Append appends the encoded header to dst.
func (h *StreamHeader) Append(dst []byte) []byte {
	var b [8]byte
	// The format tags are byte order independent.
	h.Format.ByteOrder().PutUint32(b[0:4], uint32(h.Format))
	h.Format.ByteOrder().PutUint32(b[4:8], Magic)
	dst = append(dst, b[:]...)
	for _, it := range h.Items() {
		dst = h.Format.AppendItem(dst, it)
	}
	return dst
}

// IsStreamEvent reports whether the kind describes the stream or the
// producer rather than something that happened on a processor at a point
// in time. Such items carry no meaningful time tag.
func IsStreamEvent(e Event) bool {
	switch e {
	case EventEmpty, EventVersion, EventProcessorMaximum, EventPerCPUCount,
		EventFrequency, EventProcessor, EventArch, EventMultilib, EventBSP,
		EventVersionControlKey, EventTools:
		return true
	}
	return false
}

// PackString splits s into data words of width bytes, NUL padded, in
// ascending memory order. Bytes outside printable ASCII are replaced
// with '?'.
func PackString(s string, width int) []uint64 {
	if width <= 0 || width > 8 {
		width = 8
	}
	n := (len(s) + width - 1) / width
	words := make([]uint64, 0, n)
	for i := 0; i < len(s); i += width {
		var w uint64
		for j := 0; j < width && i+j < len(s); j++ {
			c := s[i+j]
			if c < 0x20 || c > 0x7e {
				c = '?'
			}
			w |= uint64(c) << (8 * j)
		}
		words = append(words, w)
	}
	return words
}

// UnpackString reverses PackString for a single data word, stopping at
// the first NUL.
func UnpackString(word uint64, width int) string {
	if width <= 0 || width > 8 {
		width = 8
	}
	b := make([]byte, 0, width)
	for j := 0; j < width; j++ {
		c := byte(word >> (8 * j))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}
