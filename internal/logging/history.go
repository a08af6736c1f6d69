package logging

import (
	"sync"
	"time"
)

// LogEntry is one record kept in the history.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// History holds the most recent log entries. Once full, each Append
// replaces the oldest entry.
type History struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	wrapped bool
}

// NewHistory returns a History keeping up to capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{entries: make([]LogEntry, capacity)}
}

func (h *History) Append(entry LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = entry
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.wrapped = true
	}
}

// Len returns the number of entries held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.len()
}

func (h *History) len() int {
	if h.wrapped {
		return len(h.entries)
	}
	return h.next
}

// Tail returns up to n of the newest entries, oldest first. n <= 0 returns
// everything held.
func (h *History) Tail(n int) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	held := h.len()
	if n <= 0 || n > held {
		n = held
	}
	if n == 0 {
		return nil
	}

	out := make([]LogEntry, n)
	start := h.next - n
	if start >= 0 {
		copy(out, h.entries[start:h.next])
		return out
	}
	// Wrapped: the first part sits at the end of the slice.
	start += len(h.entries)
	k := copy(out, h.entries[start:])
	copy(out[k:], h.entries[:h.next])
	return out
}
