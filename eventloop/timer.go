package eventloop

import (
	"container/heap"

	"github.com/andrewhop/aws-c-io/channel"
)

// timerEntry is one pending future task, ordered by runAtNanos. seq breaks
// ties between entries scheduled for the same instant in FIFO order, the
// same trick smux's shaperHeap uses to keep equal-priority writes stable.
type timerEntry struct {
	runAtNanos int64
	seq        uint64
	task       *channel.Task
	index      int
}

// timerHeap is a container/heap.Interface min-heap over timerEntry,
// grounded on smux's shaperHeap (session.go) and simplified to the single
// ordering key this loop needs.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].runAtNanos != h[j].runAtNanos {
		return h[i].runAtNanos < h[j].runAtNanos
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func (h *timerHeap) peek() *timerEntry {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

var _ = heap.Interface(&timerHeap{})
