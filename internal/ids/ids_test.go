package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortable(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not monotonic: %s <= %s", next, prev)
		}
		prev = next
	}
	parsed, err := ulid.Parse(prev)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(at) {
		t.Fatalf("unexpected timestamp %v", got)
	}
}
