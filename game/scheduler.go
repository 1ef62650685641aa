package game

import (
	"container/heap"
	"time"
)

type task struct {
	key    string
	at     time.Time
	seq    uint64
	guard  func() bool
	action func(now time.Time)
	index  int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// Scheduler holds delayed actions keyed by name. At most one task per key is
// pending. A task's guard is evaluated when it fires; a false guard drops
// the action. Not safe for concurrent use: the session loop owns it.
type Scheduler struct {
	queue taskQueue
	byKey map[string]*task
	seq   uint64
}

func NewScheduler() *Scheduler {
	return &Scheduler{byKey: make(map[string]*task)}
}

// Schedule returns false when key already has a pending task.
func (s *Scheduler) Schedule(key string, at time.Time, guard func() bool, action func(now time.Time)) bool {
	if _, ok := s.byKey[key]; ok {
		return false
	}
	s.seq++
	t := &task{key: key, at: at, seq: s.seq, guard: guard, action: action}
	heap.Push(&s.queue, t)
	s.byKey[key] = t
	return true
}

// Reschedule replaces any pending task under key.
func (s *Scheduler) Reschedule(key string, at time.Time, guard func() bool, action func(now time.Time)) {
	s.Cancel(key)
	s.Schedule(key, at, guard, action)
}

func (s *Scheduler) Cancel(key string) bool {
	t, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, t.index)
	delete(s.byKey, key)
	return true
}

func (s *Scheduler) Pending(key string) bool {
	_, ok := s.byKey[key]
	return ok
}

func (s *Scheduler) Next() (time.Time, bool) {
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

// RunDue fires every task whose time is not after now, earliest first.
// Actions may schedule further tasks. Returns how many actions ran.
func (s *Scheduler) RunDue(now time.Time) int {
	ran := 0
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		t := heap.Pop(&s.queue).(*task)
		delete(s.byKey, t.key)
		if t.guard != nil && !t.guard() {
			continue
		}
		t.action(now)
		ran++
	}
	return ran
}

func (s *Scheduler) Len() int {
	return len(s.queue)
}

func (s *Scheduler) Clear() {
	s.queue = nil
	s.byKey = make(map[string]*task)
}
