package ids

import (
	"testing"
	"time"
)

func TestNewIsMonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Fatal("expected generated id to be valid")
	}
	for _, bad := range []string{"", "  ", "not-an-id", "01HZZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
