package session

import (
	"fmt"
	"sync"
	"time"
)

// Latency window settings.
const (
	LatencyCapacity = 10
	DefaultEstimate = 8 * time.Second
)

// LatencyWindow keeps the most recent durations, evicting the oldest first.
type LatencyWindow struct {
	mu       sync.Mutex
	capacity int
	values   []time.Duration
}

// NewLatencyWindow creates a window holding at most capacity values.
func NewLatencyWindow(capacity int) *LatencyWindow {
	if capacity <= 0 {
		capacity = LatencyCapacity
	}
	return &LatencyWindow{capacity: capacity, values: make([]time.Duration, 0, capacity)}
}

// Add records d.
func (w *LatencyWindow) Add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.values) == w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, d)
}

// Values returns the retained durations, oldest first.
func (w *LatencyWindow) Values() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.values...)
}

// Estimate returns the mean of the window, or DefaultEstimate when empty.
func (w *LatencyWindow) Estimate() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.values) == 0 {
		return DefaultEstimate
	}
	var sum time.Duration
	for _, v := range w.values {
		sum += v
	}
	return sum / time.Duration(len(w.values))
}

// FormatDuration renders d for humans: "4.2 sec", "3 min 5 sec", "1 hr 12 min".
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 60:
		return fmt.Sprintf("%.1f sec", secs)
	case secs < 3600:
		total := int(secs)
		return fmt.Sprintf("%d min %d sec", total/60, total%60)
	default:
		total := int(secs)
		return fmt.Sprintf("%d hr %d min", total/3600, (total%3600)/60)
	}
}
