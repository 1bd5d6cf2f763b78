package jwks

import (
	"sync"
	"time"
)

const (
	// DefaultFetchLimit is the number of JWKS fetches allowed per window.
	DefaultFetchLimit = 5

	// DefaultFetchWindow is the length of the rolling fetch window.
	DefaultFetchWindow = time.Minute
)

// FetchRateWindow bounds outbound fetches to a fixed count per rolling window.
// It keeps the timestamp of each admitted fetch still inside the window.
type FetchRateWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
	now    func() time.Time
}

// NewFetchRateWindow creates a window admitting limit fetches per window.
func NewFetchRateWindow(limit int, window time.Duration) *FetchRateWindow {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if window <= 0 {
		window = DefaultFetchWindow
	}
	return &FetchRateWindow{
		limit:  limit,
		window: window,
		events: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Acquire records a fetch and reports whether it is within the limit.
// A refused fetch is not recorded.
func (w *FetchRateWindow) Acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	if len(w.events) >= w.limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Remaining returns how many fetches the window would admit right now.
func (w *FetchRateWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.now())
	return w.limit - len(w.events)
}

// ResetAt returns when the oldest admitted fetch leaves the window.
func (w *FetchRateWindow) ResetAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	if len(w.events) == 0 {
		return now
	}
	return w.events[0].Add(w.window)
}

// prune drops events older than the window. Caller holds mu.
func (w *FetchRateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
