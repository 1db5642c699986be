package record

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jnesss/event-recorder/platform"
	"github.com/jnesss/event-recorder/ring"
	"github.com/jnesss/event-recorder/types"
)

type fakeCounter struct {
	now  uint32
	freq uint32
}

func (c *fakeCounter) Read() uint32      { return c.now }
func (c *fakeCounter) Frequency() uint32 { return c.freq }

type fakeClock struct {
	uptime uint64
}

func (c *fakeClock) Uptime() uint64 { return c.uptime }

func newRecorder(t *testing.T, cpus, itemCount int, mod func(*Configuration)) (*Recorder, *fakeCounter) {
	t.Helper()
	counter := &fakeCounter{freq: 1000000}
	cfg := Configuration{Counter: counter}
	for i := 0; i < cpus; i++ {
		c, err := ring.New(itemCount, cpus > 1)
		if err != nil {
			t.Fatal(err)
		}
		cfg.Controls = append(cfg.Controls, c)
	}
	if mod != nil {
		mod(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r, counter
}

func item(time uint32, event types.Event, data uint64) types.Item {
	return types.Item{Event: types.TimeEvent(time, event), Data: data}
}

func drainAll(r *Recorder) []types.Item {
	var all []types.Item
	r.Drain(func(items []types.Item) {
		all = append(all, items...)
	})
	return all
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	c, err := ring.New(4, false)
	if err != nil {
		t.Fatal(err)
	}
	counter := &fakeCounter{freq: 1}
	tests := []struct {
		name string
		cfg  Configuration
	}{
		{"no buffers", Configuration{Counter: counter}},
		{"no counter", Configuration{Controls: []*ring.Control{c}}},
		{"nil buffer", Configuration{Controls: []*ring.Control{c, nil}, Counter: counter}},
		{"data width", Configuration{Controls: []*ring.Control{c}, Counter: counter, DataBytes: 2}},
		{"interrupts", Configuration{
			Controls:   []*ring.Control{c},
			Counter:    counter,
			Interrupts: platform.NewLaneLocks(2),
		}},
	}
	for _, tc := range tests {
		if _, err := New(tc.cfg); err == nil {
			t.Errorf("%s: New succeeded", tc.name)
		}
	}
}

func TestItemCountIsLargestBuffer(t *testing.T) {
	a, _ := ring.New(4, true)
	b, _ := ring.New(16, true)
	r, err := New(Configuration{Controls: []*ring.Control{a, b}, Counter: &fakeCounter{}})
	if err != nil {
		t.Fatal(err)
	}
	if r.ItemCount() != 16 || r.ItemCountForFetch() != 20 {
		t.Errorf("ItemCount() = %d, ItemCountForFetch() = %d", r.ItemCount(), r.ItemCountForFetch())
	}
	if r.Processors() != 2 || r.DataBytes() != 8 {
		t.Errorf("Processors() = %d, DataBytes() = %d", r.Processors(), r.DataBytes())
	}
}

func TestProduceBatchSharesTime(t *testing.T) {
	r, counter := newRecorder(t, 1, 8, nil)
	counter.now = 5
	r.ProduceN(
		types.Item{Event: uint32(types.EventThreadBegin), Data: 1},
		types.Item{Event: uint32(types.EventArg0), Data: 2},
		types.Item{Event: uint32(types.EventArg1), Data: 3},
	)
	want := []types.Item{
		item(0, types.EventProcessor, 0),
		item(0, types.EventPerCPUTail, 0),
		item(0, types.EventPerCPUHead, 3),
		item(5, types.EventThreadBegin, 1),
		item(5, types.EventArg0, 2),
		item(5, types.EventArg1, 3),
	}
	if diff := cmp.Diff(want, drainAll(r)); diff != "" {
		t.Errorf("drained items mismatch (-want +got):\n%s", diff)
	}
	if got := r.Control(0).Tail(); got != 3 {
		t.Errorf("tail = %d, want 3", got)
	}
	if got := drainAll(r); len(got) != 0 {
		t.Errorf("second drain returned %v", got)
	}
}

func TestCommitPublishesBatch(t *testing.T) {
	r, counter := newRecorder(t, 1, 8, nil)
	counter.now = 7
	var rc Context
	r.Prepare(&rc)
	rc.Add(types.User(1), 10)
	rc.Add(types.User(2)|types.Event(3<<types.EventBits), 20)
	if h := r.Control(0).Head(); h != 0 {
		t.Fatalf("head = %d before commit", h)
	}
	if got := drainAll(r); len(got) != 0 {
		t.Fatalf("uncommitted items drained: %v", got)
	}
	rc.Commit()
	if h := r.Control(0).Head(); h != 2 {
		t.Fatalf("head = %d after commit, want 2", h)
	}
	got := drainAll(r)[3:]
	want := []types.Item{item(7, types.User(1), 10), item(7, types.User(2), 20)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestProduceCritical(t *testing.T) {
	locks := platform.NewLaneLocks(2)
	r, counter := newRecorder(t, 2, 4, func(cfg *Configuration) {
		cfg.Interrupts = locks
	})
	counter.now = 1
	level := locks[1].Disable()
	r.ProduceCritical(1, types.Item{Event: uint32(types.EventInterruptBegin), Data: 9})
	locks[1].Enable(level)

	want := []types.Item{
		item(0, types.EventProcessor, 1),
		item(0, types.EventPerCPUTail, 0),
		item(0, types.EventPerCPUHead, 1),
		item(1, types.EventInterruptBegin, 9),
	}
	if diff := cmp.Diff(want, drainAll(r)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestCurrentCPU(t *testing.T) {
	cpu := uint32(1)
	r, _ := newRecorder(t, 2, 4, func(cfg *Configuration) {
		cfg.CurrentCPU = func() uint32 { return cpu }
	})
	r.Produce(types.User(0), 1)
	cpu = 7
	r.Produce(types.User(0), 2)
	if h := r.Control(1).Head(); h != 1 {
		t.Errorf("cpu 1 head = %d, want 1", h)
	}
	if h := r.Control(0).Head(); h != 1 {
		t.Errorf("out of range processor not mapped to cpu 0, head = %d", h)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		dataBytes int
		s         string
		want      []uint64
	}{
		{8, "hello world!", []uint64{0x6f77206f6c6c6568, 0x21646c72}},
		{4, "abcdef", []uint64{0x64636261, 0x6665}},
		{8, "a\nb", []uint64{0x623f61}},
		{8, "", nil},
	}
	for _, tc := range tests {
		r, _ := newRecorder(t, 1, 64, func(cfg *Configuration) {
			cfg.DataBytes = tc.dataBytes
		})
		r.String(types.User(5), tc.s)
		var got []uint64
		for _, it := range drainAll(r) {
			if it.Kind() == types.User(5) {
				got = append(got, it.Data)
			}
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("String(%q) mismatch (-want +got):\n%s", tc.s, diff)
		}
	}
}

func TestStringIsBounded(t *testing.T) {
	r, _ := newRecorder(t, 1, 64, nil)
	long := make([]byte, 3*MaxStringLength)
	for i := range long {
		long[i] = 'x'
	}
	r.String(types.User(0), string(long))
	if h := r.Control(0).Head(); h != MaxStringLength/8 {
		t.Errorf("head = %d, want %d", h, MaxStringLength/8)
	}
}

func TestThreadName(t *testing.T) {
	r, _ := newRecorder(t, 1, 16, nil)
	r.ThreadName(0x0a010001, "IDLE")
	want := []types.Item{
		item(0, types.EventThreadID, 0x0a010001),
		item(0, types.EventThreadName, 0x454c4449),
	}
	if diff := cmp.Diff(want, drainAll(r)[3:]); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestLineAndCaller(t *testing.T) {
	r, _ := newRecorder(t, 1, 32, func(cfg *Configuration) {
		cfg.CallSite = func(skip int) uint64 { return uint64(100 + skip) }
	})
	r.Line()
	r.LineArgs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	r.Caller()

	want := []types.Item{item(0, types.EventLine, 101), item(0, types.EventLine, 101)}
	for i := 0; i < MaxLineArgs; i++ {
		want = append(want, item(0, types.EventArg0+types.Event(i), uint64(i+1)))
	}
	want = append(want, item(0, types.EventCaller, 102), item(0, types.EventLine, 101))
	if diff := cmp.Diff(want, drainAll(r)[3:]); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestCallSiteHelpers(t *testing.T) {
	pair := types.Item{Event: uint32(types.User(1)), Data: 11}
	tests := []struct {
		name    string
		produce func(r *Recorder)
		want    []types.Item
	}{
		{
			name:    "line pairs",
			produce: func(r *Recorder) { r.LinePairs(pair, types.Item{Event: uint32(types.User(2)), Data: 12}) },
			want: []types.Item{
				item(0, types.EventLine, 101),
				item(0, types.User(1), 11),
				item(0, types.User(2), 12),
			},
		},
		{
			name:    "caller pairs",
			produce: func(r *Recorder) { r.CallerPairs(pair) },
			want: []types.Item{
				item(0, types.EventCaller, 102),
				item(0, types.EventLine, 101),
				item(0, types.User(1), 11),
			},
		},
		{
			name:    "caller args",
			produce: func(r *Recorder) { r.CallerArgs(5, 6) },
			want: []types.Item{
				item(0, types.EventCaller, 102),
				item(0, types.EventLine, 101),
				item(0, types.EventArg0, 5),
				item(0, types.EventArg1, 6),
			},
		},
		{
			name:    "entry",
			produce: func(r *Recorder) { r.Entry(types.EventFunctionEntry, 1, 2, 3) },
			want: []types.Item{
				item(0, types.EventFunctionEntry, 102),
				item(0, types.EventArg0, 1),
				item(0, types.EventArg1, 2),
				item(0, types.EventArg2, 3),
			},
		},
		{
			name:    "exit",
			produce: func(r *Recorder) { r.Exit(types.EventFunctionExit, 7) },
			want: []types.Item{
				item(0, types.EventFunctionExit, 102),
				item(0, types.EventReturn0, 7),
			},
		},
		{
			name:    "entry without arguments",
			produce: func(r *Recorder) { r.Entry(types.User(9)) },
			want:    []types.Item{item(0, types.User(9), 102)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRecorder(t, 1, 32, func(cfg *Configuration) {
				cfg.CallSite = func(skip int) uint64 { return uint64(100 + skip) }
			})
			tt.produce(r)
			if diff := cmp.Diff(tt.want, drainAll(r)[3:]); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExitIsBounded(t *testing.T) {
	r, _ := newRecorder(t, 1, 32, func(cfg *Configuration) {
		cfg.CallSite = func(skip int) uint64 { return 0 }
	})
	r.Exit(types.EventFunctionExit, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)
	items := drainAll(r)[3:]
	if len(items) != 1+MaxLineArgs {
		t.Fatalf("got %d items, want %d", len(items), 1+MaxLineArgs)
	}
	if last := items[len(items)-1]; last.Kind() != types.EventReturn9 || last.Data != 9 {
		t.Errorf("last item %v %d", last.Kind(), last.Data)
	}
}

type fakeInterrupts struct {
	disabled int
	enabled  []platform.Level
}

func (f *fakeInterrupts) Disable() platform.Level {
	f.disabled++
	return platform.Level(40 + f.disabled)
}

func (f *fakeInterrupts) Enable(level platform.Level) {
	f.enabled = append(f.enabled, level)
}

func TestInterruptDisableEnable(t *testing.T) {
	cpu0, cpu1 := &fakeInterrupts{}, &fakeInterrupts{}
	cpu := uint32(1)
	r, counter := newRecorder(t, 2, 8, func(cfg *Configuration) {
		cfg.Interrupts = []platform.Interrupts{cpu0, cpu1}
		cfg.CurrentCPU = func() uint32 { return cpu }
		cfg.CallSite = func(skip int) uint64 { return uint64(200 + skip) }
	})
	counter.now = 3
	level := r.InterruptDisable()
	if cpu1.disabled != 1 || len(cpu1.enabled) != 0 {
		t.Fatalf("after disable: %+v", cpu1)
	}
	// The section stays on the processor it was entered on.
	cpu = 0
	counter.now = 4
	r.InterruptEnable(level)
	if diff := cmp.Diff([]platform.Level{41}, cpu1.enabled); diff != "" {
		t.Errorf("enable levels mismatch (-want +got):\n%s", diff)
	}
	if cpu0.disabled != 0 || len(cpu0.enabled) != 0 {
		t.Errorf("processor 0 section touched: %+v", cpu0)
	}

	want := []types.Item{
		item(0, types.EventProcessor, 1),
		item(0, types.EventPerCPUTail, 0),
		item(0, types.EventPerCPUHead, 2),
		item(3, types.EventISRDisable, 201),
		item(4, types.EventISREnable, 201),
	}
	if diff := cmp.Diff(want, drainAll(r)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestProduceOnUnknownProcessor(t *testing.T) {
	r, _ := newRecorder(t, 2, 8, nil)
	r.ProduceOn(9, types.Item{Event: uint32(types.User(0)), Data: 1})
	r.ThreadNameOn(9, 0x0a010001, "IDLE")
	var rc Context
	r.PrepareCritical(&rc, 5)
	rc.Add(types.User(1), 2)
	rc.CommitCritical()
	if h := r.Control(0).Head(); h != 4 {
		t.Errorf("cpu 0 head = %d, want 4", h)
	}
	if h := r.Control(1).Head(); h != 0 {
		t.Errorf("cpu 1 head = %d, want 0", h)
	}
}

func TestHostCallSiteDiffers(t *testing.T) {
	r, _ := newRecorder(t, 1, 8, nil)
	r.Caller()
	items := drainAll(r)[3:]
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].Data == 0 || items[1].Data == 0 || items[0].Data == items[1].Data {
		t.Errorf("caller %#x, line %#x", items[0].Data, items[1].Data)
	}
}

func TestSampleUptime(t *testing.T) {
	clock := &fakeClock{uptime: 0x123456789}
	r, counter := newRecorder(t, 2, 8, func(cfg *Configuration) {
		cfg.Clock = clock
	})
	counter.now = 42
	r.SampleUptime()

	var got []types.Item
	r.Drain(func(items []types.Item) {
		got = append(got, items[3:]...)
	})
	want := []types.Item{
		item(42, types.EventUptimeLow, 0x23456789),
		item(42, types.EventUptimeHigh, 0x1),
		item(42, types.EventUptimeLow, 0x23456789),
		item(42, types.EventUptimeHigh, 0x1),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}
