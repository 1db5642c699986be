package database

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndQueryEvents(t *testing.T) {
	db := newDB(t)
	records := []*EventRecord{
		{Time: 1 << 32, Seconds: 1, CPU: 0, Kind: 5, Event: "THREAD_SWITCH_IN", Data: 0x0a010001, ThreadName: "IDLE/0"},
		{Time: 2 << 32, Seconds: 2, CPU: 1, Kind: 512, Event: "USER_0", Data: 1<<63 | 7},
		{Time: 3 << 32, Seconds: 3, CPU: 1, Kind: 512, Event: "USER_0", Data: 8},
	}
	if err := db.InsertEvents(records[:2]); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertEvent(records[2]); err != nil {
		t.Fatal(err)
	}
	if records[0].ID == 0 || records[2].ID <= records[1].ID {
		t.Fatalf("ids %d, %d, %d", records[0].ID, records[1].ID, records[2].ID)
	}

	ignoreReceived := cmpopts.IgnoreFields(EventRecord{}, "Received")
	got, err := db.Events(EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(records, got, ignoreReceived); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	cpu := uint32(1)
	got, err = db.Events(EventQuery{CPU: &cpu, AfterID: records[1].ID})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(records[2:], got, ignoreReceived); diff != "" {
		t.Errorf("filtered events mismatch (-want +got):\n%s", diff)
	}

	got, err = db.Events(EventQuery{Event: "THREAD_SWITCH_IN", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ThreadName != "IDLE/0" {
		t.Errorf("events by name %+v", got)
	}
}

func TestOverflowsAndSummary(t *testing.T) {
	db := newDB(t)
	for _, r := range []*EventRecord{
		{Time: 10, CPU: 0, Event: "USER_0"},
		{Time: 30, CPU: 0, Event: "USER_0"},
		{Time: 20, CPU: 2, Event: "USER_1"},
	} {
		if err := db.InsertEvent(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.InsertOverflow(0, 5, 15); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertOverflow(0, 2, 25); err != nil {
		t.Fatal(err)
	}

	overflows, err := db.Overflows(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(overflows) != 1 || overflows[0].Lost != 2 || overflows[0].Time != 25 {
		t.Errorf("overflows %+v", overflows)
	}

	stats, err := db.CPUSummary()
	if err != nil {
		t.Fatal(err)
	}
	want := []CPUStats{
		{CPU: 0, Events: 2, First: 10, Last: 30, Lost: 7},
		{CPU: 2, Events: 1, First: 20, Last: 20},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertThread(t *testing.T) {
	db := newDB(t)
	if err := db.UpsertThread(7, "WORK/1", 0); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertThread(7, "WORK/2", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertThread(3, "IDLE/0", 0); err != nil {
		t.Fatal(err)
	}
	threads, err := db.Threads()
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 || threads[0].ID != 3 || threads[1].Name != "WORK/2" || threads[1].CPU != 1 {
		t.Errorf("threads %+v", threads)
	}
}

func TestNewDBIsReopenable(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InsertEvent(&EventRecord{Event: "USER_0"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = NewDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	events, err := db.Events(EventQuery{})
	if err != nil || len(events) != 1 {
		t.Errorf("reopened store has %d events, %v", len(events), err)
	}
}
