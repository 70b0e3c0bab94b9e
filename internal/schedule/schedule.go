package schedule

import (
	"sync"
	"time"
)

// Task is a single cancellable delayed call.
type Task struct {
	timer   *time.Timer
	mu      sync.Mutex
	stopped bool
}

func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.timer.Stop()
}

// Scheduler owns a set of delayed and repeating tasks with a shared
// lifecycle: Close cancels everything that has not fired yet. Drain
// cycles, probes and deferred retries all run through one of these so
// teardown cannot leak timers.
type Scheduler struct {
	mu     sync.Mutex
	closed bool
	tasks  map[*Task]struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: map[*Task]struct{}{}}
}

// After runs fn once after delay unless cancelled first.
func (s *Scheduler) After(delay time.Duration, fn func()) *Task {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	task := &Task{}
	task.timer = time.AfterFunc(delay, func() {
		task.mu.Lock()
		fired := !task.stopped
		task.stopped = true
		task.mu.Unlock()
		s.forget(task)
		if fired {
			fn()
		}
	})
	s.tasks[task] = struct{}{}
	s.mu.Unlock()
	return task
}

// Every runs fn at the given interval until the returned task is
// cancelled or the scheduler closes. The first run happens one full
// interval after registration.
func (s *Scheduler) Every(interval time.Duration, fn func()) *Task {
	if fn == nil || interval <= 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	task := &Task{}
	var tick func()
	tick = func() {
		task.mu.Lock()
		if task.stopped {
			task.mu.Unlock()
			return
		}
		task.mu.Unlock()
		fn()
		task.mu.Lock()
		if !task.stopped {
			task.timer = time.AfterFunc(interval, tick)
		}
		task.mu.Unlock()
	}
	task.timer = time.AfterFunc(interval, tick)
	s.tasks[task] = struct{}{}
	s.mu.Unlock()
	return task
}

func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = map[*Task]struct{}{}
	s.mu.Unlock()
	for _, task := range tasks {
		task.Cancel()
	}
}

func (s *Scheduler) forget(task *Task) {
	s.mu.Lock()
	delete(s.tasks, task)
	s.mu.Unlock()
}
