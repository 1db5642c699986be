package record

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jnesss/event-recorder/types"
)

func TestNewWriterChecksFormat(t *testing.T) {
	r, _ := newRecorder(t, 1, 8, nil)
	if _, err := NewWriter(r, types.Format(0x99999999)); err == nil {
		t.Error("unknown format accepted")
	}
	if _, err := NewWriter(r, types.Format32LE); err == nil {
		t.Error("32-bit format accepted for 8 byte data")
	}
	if _, err := NewWriter(r, types.Format64BE); err != nil {
		t.Error(err)
	}
}

func TestWriteHeader(t *testing.T) {
	r, _ := newRecorder(t, 2, 16, func(cfg *Configuration) {
		cfg.DataBytes = 4
	})
	w, err := NewWriter(r, types.Format32LE)
	if err != nil {
		t.Fatal(err)
	}
	info := InfoString(types.EventArch, "amd64", 4)
	var buf bytes.Buffer
	n, err := w.WriteHeader(&buf, info...)
	if err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if want := 8 + (4+types.InfoItems)*8; n != int64(want) || len(b) != want {
		t.Fatalf("header is %d bytes, wrote %d, want %d", len(b), n, want)
	}
	f := types.Format32LE
	var got []types.Item
	for off := 8; off < 8+6*8; off += 8 {
		got = append(got, f.DecodeItem(b[off:]))
	}
	want := []types.Item{
		item(0, types.EventVersion, types.TheVersion),
		item(0, types.EventProcessorMaximum, 1),
		item(0, types.EventPerCPUCount, 16),
		item(0, types.EventFrequency, 1000000),
		item(0, types.EventArch, 0x36646d61),
		item(0, types.EventArch, 0x34),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("header items mismatch (-want +got):\n%s", diff)
	}
	if it := f.DecodeItem(b[len(b)-8:]); it != (types.Item{}) {
		t.Errorf("last info item = %+v, want EMPTY", it)
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

func TestWriteAll(t *testing.T) {
	r, counter := newRecorder(t, 2, 8, nil)
	w, err := NewWriter(r, types.Format64LE)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if n, wrote, err := w.WriteAll(&buf); n != 0 || wrote || err != nil {
		t.Fatalf("WriteAll on empty recorder = %d, %v, %v", n, wrote, err)
	}

	counter.now = 3
	r.ProduceOn(0, types.Item{Event: uint32(types.User(0)), Data: 1 << 40})
	r.ProduceOn(1, types.Item{Event: uint32(types.User(1)), Data: 2})
	n, wrote, err := w.WriteAll(&buf)
	if err != nil || !wrote {
		t.Fatalf("WriteAll = %d, %v, %v", n, wrote, err)
	}
	if n != 8*16 || buf.Len() != 8*16 {
		t.Fatalf("wrote %d bytes, buffer has %d", n, buf.Len())
	}
	var got []types.Item
	for b := buf.Bytes(); len(b) > 0; b = b[16:] {
		got = append(got, types.Format64LE.DecodeItem(b))
	}
	want := []types.Item{
		item(0, types.EventProcessor, 0),
		item(0, types.EventPerCPUTail, 0),
		item(0, types.EventPerCPUHead, 1),
		item(3, types.User(0), 1<<40),
		item(0, types.EventProcessor, 1),
		item(0, types.EventPerCPUTail, 0),
		item(0, types.EventPerCPUHead, 1),
		item(3, types.User(1), 2),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	r.Produce(types.User(0), 1)
	if _, _, err := w.WriteAll(shortWriter{}); err == nil {
		t.Error("write error not reported")
	}
}

func TestHostInfo(t *testing.T) {
	items := HostInfo(8)
	if len(items) == 0 || len(items) > types.InfoItems {
		t.Fatalf("got %d info items", len(items))
	}
	var arch strings.Builder
	for _, it := range items {
		if it.Kind() == types.EventArch {
			arch.WriteString(types.UnpackString(it.Data, 8))
		}
	}
	if arch.String() != runtime.GOARCH {
		t.Errorf("arch = %q, want %q", arch.String(), runtime.GOARCH)
	}
}

func TestResetRestartsRound(t *testing.T) {
	r, _ := newRecorder(t, 2, 8, nil)
	w, err := NewWriter(r, types.Format64LE)
	if err != nil {
		t.Fatal(err)
	}
	r.ProduceOn(0, types.Item{Event: uint32(types.User(0)), Data: 1})
	r.ProduceOn(1, types.Item{Event: uint32(types.User(1)), Data: 2})
	if _, _, err := w.WriteAll(shortWriter{}); err == nil {
		t.Fatal("write error not reported")
	}

	w.Reset()
	r.ProduceOn(0, types.Item{Event: uint32(types.User(0)), Data: 3})
	var buf bytes.Buffer
	if _, _, err := w.WriteAll(&buf); err != nil {
		t.Fatal(err)
	}
	first := types.Format64LE.DecodeItem(buf.Bytes())
	if first != item(0, types.EventProcessor, 0) {
		t.Errorf("round starts with %+v", first)
	}
}
