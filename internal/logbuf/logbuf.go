// Package logbuf keeps a bounded in-memory window of recent log entries so
// the ops API can serve them without touching disk.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a thread-safe ring of the most recent entries. Per-level counters
// cover the full process lifetime, not just what the ring still holds.
type Buffer struct {
	mu      sync.Mutex
	ring    []Entry
	next    int
	full    bool
	byLevel map[string]int64
}

// New creates a buffer that retains up to size entries.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{
		ring:    make([]Entry, size),
		byLevel: make(map[string]int64),
	}
}

// Append records an entry, evicting the oldest once the ring is full.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.ring[b.next] = e
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
	b.byLevel[e.Level]++
	b.mu.Unlock()
}

// Tail returns the newest n entries, oldest first. n <= 0 returns everything
// retained.
func (b *Buffer) Tail(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.snapshot()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Since returns retained entries at or above minLevel logged at or after the
// given time, oldest first. A zero time means no time filter.
func (b *Buffer) Since(since time.Time, minLevel slog.Level) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for _, e := range b.snapshot() {
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelOf(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Counts returns lifetime entry counts per level name.
func (b *Buffer) Counts() map[string]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int64, len(b.byLevel))
	for level, n := range b.byLevel {
		out[level] = n
	}
	return out
}

// snapshot copies retained entries oldest first. Caller holds the lock.
func (b *Buffer) snapshot() []Entry {
	if !b.full {
		out := make([]Entry, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]Entry, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

func levelOf(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
