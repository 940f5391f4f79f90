package service

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// Clock is the time source for every scheduled recorder task.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func RealClock() Clock {
	return realClock{}
}

// TimerSet owns the named timers of one recorder. StopAll cancels every timer
// and invalidates callbacks that already fired but have not run yet.
type TimerSet struct {
	clock Clock

	mu         sync.Mutex
	generation uint64
	timers     map[string]*scheduled
}

type scheduled struct {
	timer      Timer
	generation uint64
}

func NewTimerSet(clock Clock) *TimerSet {
	if clock == nil {
		clock = RealClock()
	}
	return &TimerSet{
		clock:  clock,
		timers: make(map[string]*scheduled),
	}
}

// After runs f once after d. Scheduling an existing name replaces it.
func (s *TimerSet) After(name string, d time.Duration, f func()) {
	s.schedule(name, d, f, false)
}

// Every runs f each d until cancelled.
func (s *TimerSet) Every(name string, d time.Duration, f func()) {
	s.schedule(name, d, f, true)
}

func (s *TimerSet) schedule(name string, d time.Duration, f func(), repeat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[name]; ok {
		prev.timer.Stop()
	}
	entry := &scheduled{generation: s.generation}
	s.timers[name] = entry
	s.arm(name, entry, d, f, repeat)
}

func (s *TimerSet) arm(name string, entry *scheduled, d time.Duration, f func(), repeat bool) {
	entry.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[name] != entry || s.generation != entry.generation {
			s.mu.Unlock()
			return
		}
		if repeat {
			s.arm(name, entry, d, f, repeat)
		} else {
			delete(s.timers, name)
		}
		s.mu.Unlock()

		f()
	})
}

func (s *TimerSet) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.timers[name]; ok {
		entry.timer.Stop()
		delete(s.timers, name)
	}
}

func (s *TimerSet) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, name)
	}
	s.generation++
}

// Active returns the number of timers still scheduled.
func (s *TimerSet) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
