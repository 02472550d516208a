package services

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// ScheduleFunc runs fn once after d. Tests swap in a manual scheduler.
type ScheduleFunc func(d time.Duration, fn func()) Timer

func AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// timerSet holds at most one expiry timer per order.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: map[string]Timer{}}
}

func (s *timerSet) set(orderID string, t Timer) {
	s.mu.Lock()
	prev := s.timers[orderID]
	s.timers[orderID] = t
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (s *timerSet) cancel(orderID string) {
	s.mu.Lock()
	t := s.timers[orderID]
	delete(s.timers, orderID)
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (s *timerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *timerSet) stopAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = map[string]Timer{}
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}
