package engine

import (
	"encoding/json"
	"time"
)

// entry is a live heap element. index is maintained by the heap interface
// methods so Schedule can fix or remove an entry by subject in O(log n).
type entry struct {
	subjectID int64
	dueAt     time.Time
	payload   json.RawMessage
	seq       uint64
	index     int
}

// taskHeap orders entries by due time, then by insertion sequence so that
// equal due times fire in insertion order.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].dueAt.Equal(h[j].dueAt) {
		return h[i].dueAt.Before(h[j].dueAt)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
