package ops

import (
	"fmt"
	"testing"
	"time"
)

func TestLogEviction(t *testing.T) {
	l := NewLog(100)
	for i := 1; i <= 101; i++ {
		l.Append("info", fmt.Sprintf("entry %d", i))
	}

	entries := l.Snapshot()
	if len(entries) != 100 {
		t.Fatalf("len = %d, want 100", len(entries))
	}
	if entries[0].Message != "entry 2" {
		t.Errorf("oldest = %q, want %q", entries[0].Message, "entry 2")
	}
	if entries[99].Message != "entry 101" {
		t.Errorf("newest = %q, want %q", entries[99].Message, "entry 101")
	}
	if entries[0].Seq != 2 || entries[99].Seq != 101 {
		t.Errorf("seq range = %d..%d, want 2..101", entries[0].Seq, entries[99].Seq)
	}
}

func TestLogClearKeepsSequence(t *testing.T) {
	l := NewLog(10)
	l.Append("info", "before")
	l.Append("warn", "also before")

	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", l.Len())
	}

	l.Append("info", "after")
	entries := l.Snapshot()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Seq != 3 {
		t.Errorf("seq = %d, want 3 (sequence survives a clear)", entries[0].Seq)
	}
}

func TestLogSubscribe(t *testing.T) {
	l := NewLog(10)
	ch, cancel := l.Subscribe()

	l.Append("info", "live entry")

	select {
	case e := <-ch:
		if e.Message != "live entry" || e.Level != "info" {
			t.Errorf("entry = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the entry")
	}

	cancel()
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}

	// Appends after cancel must not panic or block.
	l.Append("info", "after cancel")

	// cancel is idempotent
	cancel()
}

func TestLogSnapshotIsCopy(t *testing.T) {
	l := NewLog(10)
	l.Append("info", "original")

	snap := l.Snapshot()
	snap[0].Message = "mutated"

	if l.Snapshot()[0].Message != "original" {
		t.Error("snapshot mutation leaked into the log")
	}
}
