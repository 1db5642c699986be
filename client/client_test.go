package client

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jnesss/event-recorder/types"
)

// A counter at 2^31 Hz advances binary time by two units per tick.
const twoPerTick = 1 << 31

func item(time uint32, event types.Event, data uint64) types.Item {
	return types.Item{Event: types.TimeEvent(time, event), Data: data}
}

func stream(f types.Format, items ...types.Item) []byte {
	var b [4]byte
	f.ByteOrder().PutUint32(b[:], uint32(f))
	out := append([]byte(nil), b[:]...)
	f.ByteOrder().PutUint32(b[:], types.Magic)
	out = append(out, b[:]...)
	for _, it := range items {
		out = f.AppendItem(out, it)
	}
	return out
}

func header(cpuMax, perCPU, frequency uint64) []types.Item {
	return []types.Item{
		item(0, types.EventVersion, types.TheVersion),
		item(0, types.EventProcessorMaximum, cpuMax),
		item(0, types.EventPerCPUCount, perCPU),
		item(0, types.EventFrequency, frequency),
	}
}

type collector struct {
	events []Event
}

func (c *collector) handle(e Event) Status {
	c.events = append(c.events, e)
	return OK
}

func decode(t *testing.T, b []byte, chunk int, opts ...Option) ([]Event, Status) {
	t.Helper()
	var col collector
	c := New(col.handle, opts...)
	status := OK
	for len(b) > 0 && status == OK {
		n := chunk
		if n > len(b) {
			n = len(b)
		}
		status = c.Run(b[:n])
		b = b[n:]
	}
	c.Destroy()
	return col.events, status
}

func TestUnknownFormat(t *testing.T) {
	b := stream(types.Format32LE, header(0, 8, twoPerTick)...)
	copy(b, []byte{0x99, 0x99, 0x99, 0x99})
	var calls int
	c := New(func(Event) Status {
		calls++
		return OK
	})
	if got := c.Run(b); got != ErrorUnknownFormat {
		t.Errorf("Run = %v, want %v", got, ErrorUnknownFormat)
	}
	if got := c.Run(b); got != ErrorUnknownFormat {
		t.Errorf("second Run = %v", got)
	}
	c.Destroy()
	if calls != 0 {
		t.Errorf("handler called %d times", calls)
	}
}

func TestInvalidMagic(t *testing.T) {
	b := stream(types.Format64BE, header(0, 8, twoPerTick)...)
	b[4] ^= 0xff
	events, status := decode(t, b, 3)
	if status != ErrorInvalidMagic || len(events) != 0 {
		t.Errorf("status %v with %d events", status, len(events))
	}
}

func TestRoundTrip(t *testing.T) {
	items := append(header(0, 8, twoPerTick),
		item(0, types.EventProcessor, 0),
		item(10, types.EventUptimeLow, 1000),
		item(10, types.EventUptimeHigh, 0),
		item(15, types.EventThreadBegin, 0x0a010001),
		item(15, types.EventArg0, 7),
		item(20, types.User(1), 0xffffffff),
		item(0, types.EventEmpty, 0),
		item(21, types.EventLine, 42),
	)
	want := []Event{
		{Event: types.EventVersion, Data: types.TheVersion},
		{Event: types.EventProcessorMaximum},
		{Event: types.EventPerCPUCount, Data: 8},
		{Event: types.EventFrequency, Data: twoPerTick},
		{Event: types.EventProcessor},
		{Time: 1000, Event: types.EventUptimeLow, Data: 1000},
		{Time: 1000, Event: types.EventUptimeHigh},
		{Time: 1010, Event: types.EventThreadBegin, Data: 0x0a010001},
		{Time: 1010, Event: types.EventArg0, Data: 7},
		{Time: 1020, Event: types.User(1), Data: 0xffffffff},
		{Time: 1022, Event: types.EventLine, Data: 42},
	}
	for _, f := range []types.Format{types.Format32LE, types.Format64LE, types.Format32BE, types.Format64BE} {
		b := stream(f, items...)
		for _, chunk := range []int{1, 2, 3, 5, 16, len(b)} {
			got, status := decode(t, b, chunk)
			if status != OK {
				t.Errorf("%s/%d: status %v", f, chunk, status)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s/%d: events mismatch (-want +got):\n%s", f, chunk, diff)
			}
		}
	}
}

func TestConcreteBatch(t *testing.T) {
	b := stream(types.Format64LE, append(header(0, 8, 1000000),
		item(0, types.EventProcessor, 0),
		item(0, types.EventUptimeHigh, 0),
		item(0, types.EventUptimeLow, 1000),
		item(5, types.EventThreadBegin, 1),
		item(5, types.EventArg0, 2),
		item(5, types.EventArg1, 3),
	)...)
	events, status := decode(t, b, len(b))
	if status != OK {
		t.Fatal(status)
	}
	got := events[len(events)-3:]
	// 5 ticks at 1 MHz are 21474 units of 2^-32 s.
	want := []Event{
		{Time: 22474, Event: types.EventThreadBegin, Data: 1},
		{Time: 22474, Event: types.EventArg0, Data: 2},
		{Time: 22474, Event: types.EventArg1, Data: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestHoldBack(t *testing.T) {
	b := stream(types.Format32BE, append(header(1, 8, twoPerTick),
		item(0, types.EventProcessor, 1),
		item(100, types.User(1), 1),
		item(104, types.User(1), 2),
		item(0, types.EventPerCPUTail, 0),
		item(0, types.EventProcessor, 0),
		item(7, types.EventUptimeLow, 0),
		item(7, types.EventUptimeHigh, 5),
		item(9, types.User(0), 3),
		item(0, types.EventProcessor, 1),
		item(110, types.EventUptimeHigh, 1),
		item(110, types.EventUptimeLow, 0),
		item(111, types.User(1), 4),
	)...)
	events, status := decode(t, b, 4)
	if status != OK {
		t.Fatal(status)
	}
	var got []Event
	for _, e := range events {
		if !types.IsStreamEvent(e.Event) {
			got = append(got, e)
		}
	}
	const anchor = 1 << 32
	want := []Event{
		{Time: 5 << 32, Event: types.EventUptimeLow},
		{Time: 5 << 32, Event: types.EventUptimeHigh, Data: 5},
		{Time: 5<<32 + 4, Event: types.User(0), Data: 3},
		{Time: anchor - 20, CPU: 1, Event: types.User(1), Data: 1},
		{Time: anchor - 12, CPU: 1, Event: types.User(1), Data: 2},
		{Time: anchor, CPU: 1, Event: types.EventPerCPUTail},
		{Time: anchor, CPU: 1, Event: types.EventUptimeHigh, Data: 1},
		{Time: anchor, CPU: 1, Event: types.EventUptimeLow},
		{Time: anchor + 2, CPU: 1, Event: types.User(1), Data: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReanchor(t *testing.T) {
	b := stream(types.Format64LE, append(header(0, 8, twoPerTick),
		item(1, types.EventUptimeLow, 0),
		item(1, types.EventUptimeHigh, 1),
		item(types.TimeMask, types.User(0), 1),
		item(3, types.User(0), 2),
		item(4, types.EventUptimeLow, 500),
		item(5, types.EventUptimeHigh, 1),
		item(6, types.User(0), 3),
	)...)
	events, status := decode(t, b, 7)
	if status != OK {
		t.Fatal(status)
	}
	var got []uint64
	for _, e := range events[4:] {
		got = append(got, e.Time)
	}
	want := []uint64{
		1 << 32,
		1 << 32,
		1<<32 + 2*(types.TimeMask-1),
		1<<32 + 2*(types.TimeMask+3),
		1<<32 + 2*(types.TimeMask+4),
		1<<32 + 500,
		1<<32 + 502,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroyDeliversHeldItems(t *testing.T) {
	b := stream(types.Format32LE, append(header(0, 8, twoPerTick),
		item(50, types.User(2), 1),
		item(60, types.User(2), 2),
	)...)
	var col collector
	c := New(col.handle)
	if status := c.Run(b); status != OK {
		t.Fatal(status)
	}
	if len(col.events) != 4 {
		t.Fatalf("%d events before Destroy", len(col.events))
	}
	c.Destroy()
	want := []Event{
		{Time: 0, Event: types.User(2), Data: 1},
		{Time: 20, Event: types.User(2), Data: 2},
	}
	if diff := cmp.Diff(want, col.events[4:]); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	many := func(cpu uint64, n int) []types.Item {
		items := []types.Item{item(0, types.EventProcessor, cpu)}
		for i := 0; i < n; i++ {
			items = append(items, item(uint32(i+1), types.User(0), uint64(i)))
		}
		return items
	}
	tests := []struct {
		name  string
		items []types.Item
		opts  []Option
		want  Status
	}{
		{
			name:  "version",
			items: []types.Item{item(0, types.EventVersion, 5)},
			want:  ErrorUnsupportedVersion,
		},
		{
			name:  "processor maximum",
			items: []types.Item{item(0, types.EventProcessorMaximum, MaximumCPUCount)},
			want:  ErrorUnsupportedCPUMax,
		},
		{
			name:  "double processor maximum",
			items: append(header(1, 8, 1), item(0, types.EventProcessorMaximum, 1)),
			want:  ErrorDoubleCPUMax,
		},
		{
			name:  "double per-processor count",
			items: append(header(1, 8, 1), item(0, types.EventPerCPUCount, 8)),
			want:  ErrorDoublePerCPUCount,
		},
		{
			name:  "no processor maximum",
			items: []types.Item{item(0, types.EventPerCPUCount, 8)},
			want:  ErrorNoCPUMax,
		},
		{
			name:  "processor beyond limit",
			items: []types.Item{item(0, types.EventProcessor, MaximumCPUCount)},
			want:  ErrorUnsupportedCPU,
		},
		{
			name:  "processor beyond declared maximum",
			items: append(header(1, 8, 1), item(0, types.EventProcessor, 2)),
			want:  ErrorUnsupportedCPU,
		},
		{
			name:  "hold-back limit",
			items: many(0, 101),
			opts:  []Option{WithHoldBackReallocationLimit(100)},
			want:  ErrorPerCPUItemsOverflow,
		},
		{
			name:  "hold-back at limit",
			items: many(0, 100),
			opts:  []Option{WithHoldBackReallocationLimit(100)},
			want:  OK,
		},
		{
			name:  "memory budget",
			items: append(append(header(1, 8, 1), many(0, 2)...), many(1, 2)...),
			opts:  []Option{WithMemoryBudget(3)},
			want:  ErrorNoMemory,
		},
	}
	for _, tc := range tests {
		_, status := decode(t, stream(types.Format64LE, tc.items...), 5, tc.opts...)
		if status != tc.want {
			t.Errorf("%s: status %v, want %v", tc.name, status, tc.want)
		}
	}
}

func TestHandlerStatusIsSticky(t *testing.T) {
	const stop = Status(100)
	b := stream(types.Format32LE, append(header(0, 8, twoPerTick),
		item(1, types.EventUptimeLow, 0),
		item(1, types.EventUptimeHigh, 0),
		item(2, types.User(7), 0),
		item(3, types.User(8), 0),
	)...)
	var seen []types.Event
	c := New(func(e Event) Status {
		seen = append(seen, e.Event)
		if e.Event == types.User(7) {
			return stop
		}
		return OK
	})
	if got := c.Run(b); got != stop {
		t.Fatalf("Run = %v", got)
	}
	if got := c.Run(b); got != stop {
		t.Fatalf("second Run = %v", got)
	}
	if seen[len(seen)-1] != types.User(7) {
		t.Errorf("events after stop: %v", seen)
	}
	if stop.Err() == nil || OK.Err() != nil {
		t.Error("Err does not follow the status")
	}
	if stop.String() != "handler status 100" {
		t.Errorf("String() = %q", stop.String())
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		frequency uint32
		scaler    uint64
		ticks     uint64
		bt        uint64
	}{
		{1000000, 9223372036855, 5, 21474},
		{1000000, 9223372036855, 1000000, 1 << 32},
		{twoPerTick, 1 << 32, 3, 6},
		{1, 1 << 63, 3, 3 << 32},
		{0, 0, 3, 0},
	}
	for _, tc := range tests {
		scaler := toBinaryTimeScaler(tc.frequency)
		if scaler != tc.scaler {
			t.Errorf("toBinaryTimeScaler(%d) = %d, want %d", tc.frequency, scaler, tc.scaler)
		}
		if got := scale(tc.ticks, scaler); got != tc.bt {
			t.Errorf("scale(%d, %d) = %d, want %d", tc.ticks, scaler, got, tc.bt)
		}
	}
}

func TestEventTime(t *testing.T) {
	e := Event{Time: 3<<32 | 1<<31}
	if e.Seconds() != 3 || e.Nanoseconds() != 500000000 {
		t.Errorf("time = %d.%09d", e.Seconds(), e.Nanoseconds())
	}
}
