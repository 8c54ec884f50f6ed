package telemetry

import "sync"

// History is a fixed-size ring of the most recent samples.
type History struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool
}

// NewHistory returns a ring holding up to size samples (at least 1).
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]float64, size)}
}

// Add appends v, evicting the oldest sample when full.
func (h *History) Add(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = v
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Values returns the samples oldest first.
func (h *History) Values() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]float64(nil), h.buf[:h.next]...)
	}
	out := make([]float64, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Len returns the number of samples held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}
