package stats

import "sync"

// Window keeps the most recent samples in a fixed-size ring. It is safe
// for concurrent use.
type Window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewWindow creates a window holding up to size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{samples: make([]float64, size)}
}

// Add records a sample, overwriting the oldest once the window is full.
func (w *Window) Add(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Values returns a copy of the retained samples, oldest first.
func (w *Window) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.full {
		return append([]float64(nil), w.samples[:w.next]...)
	}
	out := make([]float64, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	return append(out, w.samples[:w.next]...)
}

// Summary summarises the retained samples.
func (w *Window) Summary() Summary {
	return Summarize(w.Values())
}
