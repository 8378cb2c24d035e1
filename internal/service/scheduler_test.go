package service

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_ReplacesPendingTimer(t *testing.T) {
	s := newScheduler()
	var first, second atomic.Int32

	s.schedule("s1", 20*time.Millisecond, func() { first.Add(1) })
	s.schedule("s1", 20*time.Millisecond, func() { second.Add(1) })
	time.Sleep(80 * time.Millisecond)

	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("first=%d second=%d", first.Load(), second.Load())
	}
	if s.pending("s1") {
		t.Fatalf("fired timer still pending")
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := newScheduler()
	var fired atomic.Int32

	s.schedule("s1", 20*time.Millisecond, func() { fired.Add(1) })
	s.schedule("s2", 20*time.Millisecond, func() { fired.Add(10) })
	s.cancel("s1")
	time.Sleep(80 * time.Millisecond)

	if fired.Load() != 10 {
		t.Fatalf("fired = %d", fired.Load())
	}
}

func TestScheduler_StopDropsEverything(t *testing.T) {
	s := newScheduler()
	var fired atomic.Int32

	s.schedule("s1", 20*time.Millisecond, func() { fired.Add(1) })
	s.stop()
	s.schedule("s2", time.Millisecond, func() { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)

	if fired.Load() != 0 {
		t.Fatalf("fired = %d after stop", fired.Load())
	}
}
