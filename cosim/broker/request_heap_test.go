package broker

import (
	"testing"
	"time"
)

func newTestRequest(seq int, t time.Duration) *timeRequest {
	return &timeRequest{member: &member{name: "m", seq: seq}, time: t}
}

// TestRequestHeap_TimeOrdering tests that requests come out earliest first
func TestRequestHeap_TimeOrdering(t *testing.T) {
	h := newRequestHeap()

	h.schedule(newTestRequest(0, 100*time.Second))
	h.schedule(newTestRequest(1, 50*time.Second))
	h.schedule(newTestRequest(2, 150*time.Second))

	for _, want := range []time.Duration{50 * time.Second, 100 * time.Second, 150 * time.Second} {
		got := h.popNext()
		if got.time != want {
			t.Errorf("popped time = %s, want %s", got.time, want)
		}
	}
	if h.Len() != 0 {
		t.Errorf("Heap should be empty, len = %d", h.Len())
	}
}

// TestRequestHeap_JoinOrderBreaksTies tests same-time requests pop in join order
func TestRequestHeap_JoinOrderBreaksTies(t *testing.T) {
	h := newRequestHeap()

	// Add in reverse join order
	h.schedule(newTestRequest(2, time.Minute))
	h.schedule(newTestRequest(0, time.Minute))
	h.schedule(newTestRequest(1, time.Minute))

	for want := 0; want < 3; want++ {
		if got := h.popNext().member.seq; got != want {
			t.Errorf("popped seq = %d, want %d", got, want)
		}
	}
}

func TestRequestHeap_Remove_DropsQueuedRequestOnly(t *testing.T) {
	h := newRequestHeap()
	a := newTestRequest(0, time.Second)
	b := newTestRequest(1, 2*time.Second)
	h.schedule(a)
	h.schedule(b)

	h.remove(a)
	h.remove(a) // second removal is a no-op

	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}
	if h.peek() != b {
		t.Error("remaining request should be b")
	}
	if a.index != -1 {
		t.Errorf("removed request index = %d, want -1", a.index)
	}
}

func TestRequestHeap_EmptyPeekAndPop_ReturnNil(t *testing.T) {
	h := newRequestHeap()
	if h.peek() != nil || h.popNext() != nil {
		t.Error("empty heap should return nil")
	}
}
