// Package dedup suppresses re-emission of identical errors within a rolling
// time window so a tight failure loop (a render retried every frame, a
// polling call against a dead endpoint) cannot flood the outbound queue.
//
// Identity is a cheap content hash of the message plus the first real stack
// frame — not cryptographic, purely a short-window gate. The last-seen map
// is bounded; when it overflows, the oldest entries are evicted first.
package dedup

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWindow is how long a hash stays suppressed after last being seen.
	DefaultWindow = 60 * time.Second
	// DefaultCapacity bounds the last-seen map.
	DefaultCapacity = 100
)

// Key hashes an error's identity: message plus the first stack frame.
// The first line of a stack text typically repeats the message, so the
// second line is the frame that actually distinguishes call sites.
func Key(message, stack string) uint32 {
	frame := ""
	if lines := strings.SplitN(stack, "\n", 3); len(lines) > 1 {
		frame = lines[1]
	}
	s := message + "|" + frame
	var h uint32
	for _, c := range s {
		h = h<<5 - h + uint32(c)
	}
	return h
}

// Window is a bounded hash -> last-seen map with a rolling suppression
// window. Thread-safe.
type Window struct {
	mu       sync.Mutex
	seen     map[uint32]time.Time
	window   time.Duration
	capacity int
	now      func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithWindow sets the suppression duration. Default: 60s.
func WithWindow(d time.Duration) Option { return func(w *Window) { w.window = d } }

// WithCapacity sets the maximum number of tracked hashes. Default: 100.
func WithCapacity(n int) Option { return func(w *Window) { w.capacity = n } }

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option { return func(w *Window) { w.now = fn } }

// NewWindow creates a Window with the package defaults.
func NewWindow(opts ...Option) *Window {
	w := &Window{
		seen:     make(map[uint32]time.Time),
		window:   DefaultWindow,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Suppress reports whether the hash was already seen within the window.
// A non-suppressed hash is recorded (or refreshed) as seen now; if that
// pushes the map over capacity, the oldest entries are evicted until the
// map is exactly at capacity again.
func (w *Window) Suppress(key uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if last, ok := w.seen[key]; ok && now.Sub(last) < w.window {
		return true
	}
	w.seen[key] = now
	if len(w.seen) > w.capacity {
		w.evictOldest(len(w.seen) - w.capacity)
	}
	return false
}

// evictOldest removes n entries, oldest timestamp first. Caller holds mu.
func (w *Window) evictOldest(n int) {
	type entry struct {
		key  uint32
		seen time.Time
	}
	all := make([]entry, 0, len(w.seen))
	for k, t := range w.seen {
		all = append(all, entry{k, t})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seen.Before(all[j].seen) })
	for i := 0; i < n && i < len(all); i++ {
		delete(w.seen, all[i].key)
	}
}

// Len returns the number of tracked hashes.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset drops all tracked hashes.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[uint32]time.Time)
}
