package receiver

import "sync"

// DefaultLatencyWindow matches the protocol's LATENCY_AVG_WINDOW reference
// value: a rolling average computed over the last 60 completed frames.
const DefaultLatencyWindow = 60

// LatencyTracker keeps a ring buffer of arrival-minus-capture latencies (in
// nanoseconds) for completed frames, exposing a rolling average. This is
// not part of the core wire protocol; it mirrors the instrumentation the
// original receiver kept around a fixed-size window of recent samples.
type LatencyTracker struct {
	mu      sync.Mutex
	window  int
	samples []int64
	next    int
	filled  bool
	sum     int64
}

// NewLatencyTracker builds a tracker with the given window size. A
// non-positive window selects DefaultLatencyWindow.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &LatencyTracker{
		window:  window,
		samples: make([]int64, window),
	}
}

// Record adds a new latency sample in nanoseconds.
func (t *LatencyTracker) Record(latencyNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.samples[t.next]
	if t.filled {
		t.sum -= old
	}
	t.samples[t.next] = latencyNs
	t.sum += latencyNs
	t.next = (t.next + 1) % t.window
	if t.next == 0 {
		t.filled = true
	}
}

// Stats reports the sample count currently in the window and its average
// latency in nanoseconds. With no samples yet, average is 0.
func (t *LatencyTracker) Stats() (count int, averageNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filled {
		count = t.window
	} else {
		count = t.next
	}
	if count == 0 {
		return 0, 0
	}
	return count, t.sum / int64(count)
}
