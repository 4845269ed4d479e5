package broker

import (
	"container/heap"
	"time"
)

// timeRequest is one federate blocked in RequestTime.
type timeRequest struct {
	member *member
	time   time.Duration
	reply  chan grantResult
	index  int // position in the heap; -1 once removed
}

type grantResult struct {
	grant Grant
	err   error
}

// requestHeap implements a priority queue of pending time requests with
// deterministic ordering: requested time → join order.
type requestHeap struct {
	requests []*timeRequest
}

func newRequestHeap() *requestHeap {
	h := &requestHeap{requests: make([]*timeRequest, 0)}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *requestHeap) Len() int {
	return len(h.requests)
}

// Less implements heap.Interface with deterministic ordering
func (h *requestHeap) Less(i, j int) bool {
	ri, rj := h.requests[i], h.requests[j]

	// Primary: requested time (earlier first)
	if ri.time != rj.time {
		return ri.time < rj.time
	}

	// Secondary: join order (lower first, deterministic tie-breaker)
	return ri.member.seq < rj.member.seq
}

// Swap implements heap.Interface
func (h *requestHeap) Swap(i, j int) {
	h.requests[i], h.requests[j] = h.requests[j], h.requests[i]
	h.requests[i].index = i
	h.requests[j].index = j
}

// Push implements heap.Interface
func (h *requestHeap) Push(x interface{}) {
	r := x.(*timeRequest)
	r.index = len(h.requests)
	h.requests = append(h.requests, r)
}

// Pop implements heap.Interface
func (h *requestHeap) Pop() interface{} {
	old := h.requests
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	h.requests = old[0 : n-1]
	return r
}

// schedule adds a request to the heap
func (h *requestHeap) schedule(r *timeRequest) {
	heap.Push(h, r)
}

// popNext removes and returns the earliest request
func (h *requestHeap) popNext() *timeRequest {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*timeRequest)
}

// peek returns the earliest request without removing it
func (h *requestHeap) peek() *timeRequest {
	if h.Len() == 0 {
		return nil
	}
	return h.requests[0]
}

// remove drops r if it is still queued.
func (h *requestHeap) remove(r *timeRequest) {
	if r.index < 0 || r.index >= h.Len() || h.requests[r.index] != r {
		return
	}
	heap.Remove(h, r.index)
}
