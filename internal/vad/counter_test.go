package vad

import "testing"

func TestCounter_ConsecutiveOnly(t *testing.T) {
	t.Parallel()

	c := NewCounter(3)
	if c.Observe(true) || c.Observe(true) {
		t.Fatal("counter active before threshold")
	}
	// A single non-trigger frame resets the run.
	if c.Observe(false) {
		t.Fatal("non-trigger frame must not activate")
	}
	if c.Count() != 0 {
		t.Fatalf("count after reset = %d, want 0", c.Count())
	}
	if c.Observe(true) || c.Observe(true) {
		t.Fatal("counter active before threshold after reset")
	}
	if !c.Observe(true) {
		t.Fatal("counter not active at threshold")
	}
	// Stays active while triggers continue.
	if !c.Observe(true) {
		t.Fatal("counter dropped while triggers continue")
	}
}

func TestCounter_ThresholdBoundedBelow(t *testing.T) {
	t.Parallel()

	c := NewCounter(0)
	if !c.Observe(true) {
		t.Fatal("threshold 0 should behave as threshold 1")
	}
}

func TestCounter_Reset(t *testing.T) {
	t.Parallel()

	c := NewCounter(2)
	c.Observe(true)
	c.Reset()
	if c.Observe(true) {
		t.Fatal("Reset did not clear the run")
	}
}
