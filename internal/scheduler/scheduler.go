// Package scheduler runs deferred callbacks against a simulation clock that
// advances once per tick. It is not safe for concurrent use: all calls are
// expected from the tick goroutine.
package scheduler

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled task. The zero Handle is never issued and
// is safe to Cancel.
type Handle uint64

type task struct {
	due    time.Duration
	seq    uint64
	handle Handle
	fn     func()
	index  int
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due == h[j].due {
		return h[i].seq < h[j].seq
	}
	return h[i].due < h[j].due
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is a priority queue of (due, callback) pairs.
type Scheduler struct {
	now   time.Duration
	seq   uint64
	tasks taskHeap
	live  map[Handle]*task
}

// New creates a Scheduler at simulation time zero.
func New() *Scheduler {
	return &Scheduler{live: make(map[Handle]*task)}
}

// Now returns the current simulation time.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// After schedules fn to run once delay has elapsed.
func (s *Scheduler) After(delay time.Duration, fn func()) Handle {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	t := &task{
		due:    s.now + delay,
		seq:    s.seq,
		handle: Handle(s.seq),
		fn:     fn,
	}
	heap.Push(&s.tasks, t)
	s.live[t.handle] = t
	return t.handle
}

// Cancel removes a pending task. It reports whether the task was pending.
func (s *Scheduler) Cancel(h Handle) bool {
	t, ok := s.live[h]
	if !ok {
		return false
	}
	delete(s.live, h)
	heap.Remove(&s.tasks, t.index)
	return true
}

// Pending reports whether h is scheduled and has not run yet.
func (s *Scheduler) Pending(h Handle) bool {
	_, ok := s.live[h]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Advance moves the clock forward by dt and runs every task now due, in
// due order. Tasks scheduled by callbacks run in the same call if due.
func (s *Scheduler) Advance(dt time.Duration) int {
	if dt > 0 {
		s.now += dt
	}
	ran := 0
	for len(s.tasks) > 0 && s.tasks[0].due <= s.now {
		t := heap.Pop(&s.tasks).(*task)
		delete(s.live, t.handle)
		if t.fn != nil {
			t.fn()
		}
		ran++
	}
	return ran
}
