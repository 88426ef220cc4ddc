package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// A lease deadline computed from one reading must not precede a later one.
func TestClockLeaseDeadlineOrdering(t *testing.T) {
	t.Parallel()

	clk := New()
	deadline := clk.Now().Add(30 * time.Second)
	if !clk.Now().Before(deadline) {
		t.Fatalf("expected now to be before lease deadline %v", deadline)
	}
}
