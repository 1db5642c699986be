package record

import (
	"io"
	"runtime"
	"runtime/debug"

	"github.com/pkg/errors"

	"github.com/jnesss/event-recorder/types"
)

// Writer encodes the record stream of a recorder. A writer owns the drain
// session of its recorder, so only one may be active at a time.
type Writer struct {
	rec    *Recorder
	format types.Format
	fc     FetchControl
	buf    []byte
}

// NewWriter returns a writer producing format. The data width of the
// format must match the recorder.
func NewWriter(rec *Recorder, format types.Format) (*Writer, error) {
	if !format.Valid() {
		return nil, errors.Errorf("unknown stream format %#x", uint32(format))
	}
	if format.Is64() != (rec.DataBytes() == 8) {
		return nil, errors.Errorf("format %s does not carry %d byte data", format, rec.DataBytes())
	}
	w := &Writer{rec: rec, format: format}
	rec.InitFetch(&w.fc, make([]types.Item, rec.ItemCountForFetch()))
	w.buf = make([]byte, 0, rec.ItemCountForFetch()*format.ItemSize())
	return w, nil
}

// Reset abandons a partially written round. The next WriteAll starts
// over at processor 0.
func (w *Writer) Reset() {
	w.rec.InitFetch(&w.fc, w.fc.items)
}

// Format returns the stream format.
func (w *Writer) Format() types.Format {
	return w.format
}

// Header returns the stream header describing the recorder.
func (w *Writer) Header(info ...types.Item) *types.StreamHeader {
	return &types.StreamHeader{
		Format:           w.format,
		ProcessorMaximum: uint32(w.rec.Processors() - 1),
		PerCPUCount:      w.rec.ItemCount(),
		Frequency:        w.rec.Frequency(),
		Info:             info,
	}
}

// WriteHeader writes the stream preamble followed by the info items.
func (w *Writer) WriteHeader(dst io.Writer, info ...types.Item) (int64, error) {
	b := w.Header(info...).Append(nil)
	n, err := dst.Write(b)
	if err != nil {
		return int64(n), errors.Wrap(err, "failed to write stream header")
	}
	return int64(n), nil
}

// WriteAll fetches the pending items of every processor and writes them.
// wrote reports whether any item was written.
func (w *Writer) WriteAll(dst io.Writer) (n int64, wrote bool, err error) {
	for {
		status := w.rec.Fetch(&w.fc)
		if status == FetchInvalidItemCount {
			return n, wrote, errors.New("fetch storage does not match the recorder")
		}
		if len(w.fc.Fetched) > 0 {
			w.buf = w.buf[:0]
			for _, it := range w.fc.Fetched {
				w.buf = w.format.AppendItem(w.buf, it)
			}
			m, err := dst.Write(w.buf)
			n += int64(m)
			if err != nil {
				return n, wrote, errors.Wrap(err, "failed to write items")
			}
			wrote = true
		}
		if status == FetchDone {
			return n, wrote, nil
		}
	}
}

// InfoString packs s into info items of kind event.
func InfoString(event types.Event, s string, dataBytes int) []types.Item {
	var items []types.Item
	for _, word := range types.PackString(s, dataBytes) {
		items = append(items, types.Item{Event: types.TimeEvent(0, event), Data: word})
	}
	return items
}

// HostInfo describes the producing program in info items: architecture,
// operating system, toolchain and, when the binary carries it, the
// version control revision.
func HostInfo(dataBytes int) []types.Item {
	var items []types.Item
	items = append(items, InfoString(types.EventArch, runtime.GOARCH, dataBytes)...)
	items = append(items, InfoString(types.EventBSP, runtime.GOOS, dataBytes)...)
	items = append(items, InfoString(types.EventTools, runtime.Version(), dataBytes)...)
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				items = append(items, InfoString(types.EventVersionControlKey, s.Value, dataBytes)...)
			}
		}
	}
	if len(items) > types.InfoItems {
		items = items[:types.InfoItems]
	}
	return items
}
