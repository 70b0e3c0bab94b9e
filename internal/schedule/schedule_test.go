package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAfterFiresOnce(t *testing.T) {
	s := NewScheduler()
	defer s.Close()
	fired := make(chan struct{})
	s.After(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected delayed task to fire")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := NewScheduler()
	defer s.Close()
	var count atomic.Int32
	task := s.After(20*time.Millisecond, func() { count.Add(1) })
	task.Cancel()
	time.Sleep(60 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Fatalf("expected cancelled task not to fire, fired %d times", got)
	}
}

func TestEveryRepeatsUntilCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Close()
	var count atomic.Int32
	task := s.Every(10*time.Millisecond, func() { count.Add(1) })
	time.Sleep(55 * time.Millisecond)
	task.Cancel()
	seen := count.Load()
	if seen < 2 {
		t.Fatalf("expected at least two ticks, got %d", seen)
	}
	time.Sleep(40 * time.Millisecond)
	if count.Load() > seen+1 {
		t.Fatalf("expected ticks to stop after cancel")
	}
}

func TestCloseCancelsOutstandingTasks(t *testing.T) {
	s := NewScheduler()
	var count atomic.Int32
	s.After(20*time.Millisecond, func() { count.Add(1) })
	s.Every(15*time.Millisecond, func() { count.Add(1) })
	s.Close()
	time.Sleep(60 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Fatalf("expected no task to fire after close, fired %d times", got)
	}
	if s.After(time.Millisecond, func() { count.Add(1) }) != nil {
		t.Fatalf("expected After on closed scheduler to return nil")
	}
}
