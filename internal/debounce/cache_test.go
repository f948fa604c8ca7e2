package debounce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestCache_Allow(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"same instant", 0, false},
		{"inside window", 4999 * time.Millisecond, false},
		{"exactly at window", 5000 * time.Millisecond, true},
		{"after window", 6 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(DefaultWindow)
			if !c.Allow("ABC123", t0) {
				t.Fatal("first sighting should be allowed")
			}
			if got := c.Allow("ABC123", t0.Add(tt.offset)); got != tt.want {
				t.Errorf("Allow() at +%v = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestCache_SuppressedDoesNotExtendWindow(t *testing.T) {
	c := New(DefaultWindow)

	c.Allow("ABC123", t0)
	if c.Allow("ABC123", t0.Add(3*time.Second)) {
		t.Fatal("+3s should be suppressed")
	}
	// Measured from the last allowed sighting, not the suppressed one.
	if !c.Allow("ABC123", t0.Add(5*time.Second)) {
		t.Error("+5s should be allowed")
	}
}

func TestCache_KeysIndependent(t *testing.T) {
	c := New(DefaultWindow)

	if !c.Allow("ABC123", t0) || !c.Allow("XYZ999", t0) {
		t.Error("distinct identifiers should not suppress each other")
	}
}

func TestCache_KeyIgnoresDevice(t *testing.T) {
	// The same plate passing the entry and exit cameras inside the window
	// yields one sighting: callers key on the identifier only.
	c := New(DefaultWindow)
	entry, exit := "ABC123", "ABC123"

	if !c.Allow(entry, t0) {
		t.Fatal("entry sighting should be allowed")
	}
	if c.Allow(exit, t0.Add(time.Second)) {
		t.Error("exit sighting of the same identifier inside the window should be suppressed")
	}
}

func TestCache_ZeroWindowDisables(t *testing.T) {
	c := New(0)
	for i := 0; i < 3; i++ {
		if !c.Allow("ABC123", t0) {
			t.Fatal("zero window should never suppress")
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 when disabled", c.Len())
	}
}

func TestCache_Sweep(t *testing.T) {
	c := New(DefaultWindow)
	c.Allow("old", t0)
	c.Allow("fresh", t0.Add(4*time.Second))

	if removed := c.Sweep(t0.Add(5 * time.Second)); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	// Sweeping never changes a decision.
	if c.Allow("fresh", t0.Add(6*time.Second)) {
		t.Error("fresh key should still be suppressed after sweep")
	}
	if !c.Allow("old", t0.Add(6*time.Second)) {
		t.Error("swept key should be allowed")
	}
}

func TestCache_MaxEntriesEvictsOldest(t *testing.T) {
	c := New(DefaultWindow, WithMaxEntries(2))

	c.Allow("a", t0)
	c.Allow("b", t0.Add(time.Second))
	c.Allow("c", t0.Add(2*time.Second))

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	// "a" was evicted, so it is admitted again inside its window.
	if !c.Allow("a", t0.Add(3*time.Second)) {
		t.Error("evicted key should be allowed")
	}
	if c.Allow("c", t0.Add(3*time.Second)) {
		t.Error("retained key should still be suppressed")
	}
}

func TestCache_ConcurrentSingleWinner(t *testing.T) {
	c := New(DefaultWindow)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Allow("ABC123", t0) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Errorf("%d concurrent callers allowed, want exactly 1", got)
	}
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Allow("ABC123", time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for c.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
