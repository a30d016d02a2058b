package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllow_UnderCapacity(t *testing.T) {
	l := New(10, time.Minute)

	for i := 0; i < 10; i++ {
		if !l.Allow("U1") {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
}

func TestAllow_EleventhCallDenied(t *testing.T) {
	l := New(10, time.Minute)

	for i := 0; i < 10; i++ {
		l.Allow("U1")
	}
	if l.Allow("U1") {
		t.Fatal("11th call within the window should be denied")
	}
}

func TestAllow_WindowReset(t *testing.T) {
	l := New(10, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 11; i++ {
		l.Allow("U1")
	}

	// After the window elapses the next call starts a fresh window.
	now = now.Add(61 * time.Second)
	if !l.Allow("U1") {
		t.Fatal("call after window expiry should be allowed")
	}
	if l.Remaining("U1") != 9 {
		t.Fatalf("fresh window should have 9 remaining, got %d", l.Remaining("U1"))
	}
}

func TestAllow_UsersIndependent(t *testing.T) {
	l := New(2, time.Minute)

	l.Allow("U1")
	l.Allow("U1")
	if l.Allow("U1") {
		t.Fatal("U1 should be limited")
	}
	if !l.Allow("U2") {
		t.Fatal("U2 should be unaffected by U1's limit")
	}
}

func TestAllow_DeniedCallsDoNotExtendWindow(t *testing.T) {
	l := New(2, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("U1")
	l.Allow("U1")

	// Hammer denied calls for a while; the window start must not move.
	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		if l.Allow("U1") {
			t.Fatal("call over capacity should be denied")
		}
	}

	// 61s after the original window start.
	now = now.Add(41 * time.Second)
	if !l.Allow("U1") {
		t.Fatal("window should reset relative to its start, not the last denied call")
	}
}

func TestRetryAfter(t *testing.T) {
	l := New(2, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	if l.RetryAfter("U1") != 0 {
		t.Fatal("unknown user should have no wait")
	}

	l.Allow("U1")
	if l.RetryAfter("U1") != 0 {
		t.Fatal("user under capacity should have no wait")
	}

	l.Allow("U1")
	now = now.Add(20 * time.Second)
	got := l.RetryAfter("U1")
	if got != 40*time.Second {
		t.Fatalf("expected 40s retry hint, got %v", got)
	}
}

func TestConcurrent_ExactlyCapacityAllowed(t *testing.T) {
	l := New(10, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("U1") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 10 {
		t.Fatalf("expected exactly 10 allowed of 100 concurrent, got %d", got)
	}
}

func TestSweep(t *testing.T) {
	l := New(10, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("U1")
	l.Allow("U2")

	now = now.Add(30 * time.Second)
	l.Allow("U2") // refresh U2's lastSeen

	now = now.Add(45 * time.Second)
	removed := l.Sweep()

	if removed != 1 {
		t.Fatalf("expected 1 idle window swept, got %d", removed)
	}
	l.mu.Lock()
	_, u1 := l.users["U1"]
	_, u2 := l.users["U2"]
	l.mu.Unlock()
	if u1 {
		t.Fatal("U1's idle window should have been swept")
	}
	if !u2 {
		t.Fatal("U2's window should have survived the sweep")
	}
}

func TestReset(t *testing.T) {
	l := New(1, time.Minute)

	l.Allow("U1")
	if l.Allow("U1") {
		t.Fatal("expected U1 limited")
	}
	l.Reset("U1")
	if !l.Allow("U1") {
		t.Fatal("expected U1 allowed after reset")
	}
}
