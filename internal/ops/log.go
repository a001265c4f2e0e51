package ops

import (
	"sync"
	"time"
)

// LogEntry is one line of the operation narrative.
type LogEntry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Log is a bounded, append-only event buffer shared across the process.
// Appends come from operation goroutines; snapshots come from request
// handlers; both are safe concurrently. When the buffer is full the oldest
// entry is evicted first.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []LogEntry
	seq      int
	subs     map[int]chan LogEntry
	nextSub  int
}

// NewLog returns a log bounded to capacity entries.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		capacity: capacity,
		subs:     make(map[int]chan LogEntry),
	}
}

// Append adds an entry, evicting the oldest when at capacity, and fans it
// out to subscribers. Slow subscribers drop entries rather than block the
// operation goroutine.
func (l *Log) Append(level, message string) {
	l.mu.Lock()
	l.seq++
	entry := LogEntry{
		Seq:       l.seq,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[1:]
	}
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	l.mu.Unlock()
}

// Snapshot returns the buffered entries, oldest first.
func (l *Log) Snapshot() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear empties the buffer. Sequence numbers keep increasing so pollers can
// tell a cleared log from a restarted process within the same session.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Len returns the number of buffered entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Subscribe registers a live feed of appended entries. The returned cancel
// func must be called to release the subscription; the channel is closed by
// cancel.
func (l *Log) Subscribe() (<-chan LogEntry, func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan LogEntry, 64)
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
