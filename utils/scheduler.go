package utils

import (
	"sort"
	"sync"
	"time"
)

// Task is a handle to a scheduled callback. Cancel reports whether the
// callback was prevented from running.
type Task interface {
	Cancel() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, f func()) Task {
	return timerTask{t: time.AfterFunc(d, f)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() bool {
	return t.t.Stop()
}

// ManualScheduler runs callbacks only when Advance moves its clock past their
// deadline. It lets tests drive self-rescheduling loops deterministically.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending map[int]*manualTask
}

type manualTask struct {
	id  int
	at  time.Time
	f   func()
	sch *ManualScheduler
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start, pending: make(map[int]*manualTask)}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	task := &manualTask{id: s.nextID, at: s.now.Add(d), f: f, sch: s}
	s.pending[task.id] = task
	return task
}

func (t *manualTask) Cancel() bool {
	t.sch.mu.Lock()
	defer t.sch.mu.Unlock()
	if _, ok := t.sch.pending[t.id]; !ok {
		return false
	}
	delete(t.sch.pending, t.id)
	return true
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Advance moves the clock forward by d and runs every task that falls due,
// including tasks scheduled by callbacks during the advance. It returns the
// number of callbacks run.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	ran := 0
	for {
		s.mu.Lock()
		due := make([]*manualTask, 0, len(s.pending))
		for _, task := range s.pending {
			if !task.at.After(target) {
				due = append(due, task)
			}
		}
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return ran
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].id < due[j].id
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		delete(s.pending, next.id)
		s.now = next.at
		s.mu.Unlock()

		next.f()
		ran++
	}
}
