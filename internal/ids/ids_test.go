package ids

import (
	"testing"
	"time"
)

func TestNewAtIsMonotonic(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
	if len(prev) != 26 {
		t.Fatalf("unexpected ULID length %d", len(prev))
	}
}
