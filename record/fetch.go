package record

import (
	"github.com/jnesss/event-recorder/types"
)

// FetchStatus is the result of Fetch.
type FetchStatus int

const (
	// FetchContinue means more processors remain in the current round.
	FetchContinue FetchStatus = iota
	// FetchDone means the call finished the round.
	FetchDone
	// FetchInvalidItemCount means the storage does not have
	// ItemCountForFetch items.
	FetchInvalidItemCount
)

func (s FetchStatus) String() string {
	switch s {
	case FetchContinue:
		return "continue"
	case FetchDone:
		return "done"
	case FetchInvalidItemCount:
		return "invalid item count"
	}
	return "unknown"
}

// Items emitted in front of the items of each processor chunk:
// PROCESSOR, PER_CPU_TAIL, PER_CPU_HEAD and, after a loss,
// PER_CPU_OVERFLOW.
const fetchMetaItems = 4

// FetchControl carries a drain round across Fetch calls.
type FetchControl struct {
	items []types.Item

	// Fetched holds the items of the last Fetch call. It aliases the
	// storage passed to InitFetch and is overwritten by the next call.
	Fetched []types.Item

	cpu  uint32
	todo uint32
	tail uint32
	head uint32
	lost uint32
}

// ItemCountForFetch is the storage size Fetch requires.
func (r *Recorder) ItemCountForFetch() int {
	return int(r.itemCount) + fetchMetaItems
}

// InitFetch binds storage to fc and starts a round at processor 0.
func (r *Recorder) InitFetch(fc *FetchControl, items []types.Item) {
	*fc = FetchControl{items: items}
}

// Fetch copies pending items of one processor into the storage of fc. It
// returns FetchContinue while processors remain in the round and
// FetchDone after the last one. Only one drain session may run at a time.
func (r *Recorder) Fetch(fc *FetchControl) FetchStatus {
	fc.Fetched = fc.items[:0]
	if len(fc.items) != r.ItemCountForFetch() {
		return FetchInvalidItemCount
	}

	control := r.controls[fc.cpu]
	if fc.todo == 0 {
		tail := control.Tail()
		head := control.Head()
		fc.lost = 0
		if control.IsOverflow(tail, head) {
			newTail := head - control.ItemCount()
			fc.lost = newTail - tail
			tail = newTail
		}
		fc.tail = tail
		fc.head = head
		fc.todo = head - tail
	}

	if fc.todo > 0 || fc.lost > 0 {
		r.fetchChunk(fc)
	}

	if fc.todo > 0 {
		return FetchContinue
	}
	fc.cpu++
	if int(fc.cpu) == len(r.controls) {
		fc.cpu = 0
		return FetchDone
	}
	return FetchContinue
}

func (r *Recorder) fetchChunk(fc *FetchControl) {
	control := r.controls[fc.cpu]
	reportedTail := control.Tail()
	data := fc.items[fetchMetaItems:]
	n := fc.todo
	if n > uint32(len(data)) {
		n = uint32(len(data))
	}

	// Items are copied with a local tail. A slot that the producer
	// overwrote meanwhile counts as lost.
	tail := fc.tail
	copied := 0
	for i := uint32(0); i < n; i++ {
		it, ok := control.Read(tail)
		if ok {
			data[copied] = it
			copied++
		} else {
			fc.lost++
		}
		tail++
	}
	fc.tail = tail
	fc.todo -= n
	control.SetTail(tail)

	meta := [fetchMetaItems]types.Item{
		{Event: types.TimeEvent(0, types.EventProcessor), Data: uint64(fc.cpu)},
		{Event: types.TimeEvent(0, types.EventPerCPUTail), Data: uint64(reportedTail)},
		{Event: types.TimeEvent(0, types.EventPerCPUHead), Data: uint64(fc.head)},
		{Event: types.TimeEvent(0, types.EventPerCPUOverflow), Data: uint64(fc.lost)},
	}
	start := 0
	if fc.lost == 0 {
		start = 1
		copy(fc.items[1:fetchMetaItems], meta[:3])
	} else {
		copy(fc.items[:fetchMetaItems], meta[:])
	}
	fc.lost = 0
	fc.Fetched = fc.items[start : fetchMetaItems+copied]
}

// Drain runs one full round and hands every non-empty processor chunk to
// visit.
func (r *Recorder) Drain(visit func(items []types.Item)) {
	var fc FetchControl
	r.InitFetch(&fc, make([]types.Item, r.ItemCountForFetch()))
	for {
		status := r.Fetch(&fc)
		if len(fc.Fetched) > 0 {
			visit(fc.Fetched)
		}
		if status != FetchContinue {
			return
		}
	}
}
