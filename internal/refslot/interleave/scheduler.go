// Package interleave drives goroutines through a chosen interleaving.
//
// Code under test calls Probe at named points. While a point is armed, each
// goroutine reaching it parks as an Arrival until the driver resumes it, so a
// single test goroutine can hold writer A between "read previous value" and
// "release previous value" while writer B runs.
//
// A goroutine that is blocked elsewhere (for example on a mutex held by a
// parked goroutine) never arrives; Await reports that with ok == false after
// its timeout. That is how a test tells a guarded path from a racy one.
//
// Example:
//
//	sched := interleave.New[slot.Point]()
//	sched.Arm(slot.PointLoaded)
//	go s.Store(x)                       // parks at PointLoaded
//	a, _ := sched.Await(time.Second)
//	go s.Store(y)                       // fast path: also parks
//	b, ok := sched.Await(50 * time.Millisecond)
package interleave

import (
	"sync"
	"time"
)

// Arrival is one goroutine parked at a probe point.
type Arrival[P comparable] struct {
	Point  P
	resume chan struct{}
	once   sync.Once
}

// Resume lets the parked goroutine continue. Safe to call more than once.
func (a *Arrival[P]) Resume() {
	a.once.Do(func() { close(a.resume) })
}

// Scheduler parks goroutines at armed points.
//
// Thread Safety: All methods are safe for concurrent calls.
type Scheduler[P comparable] struct {
	mu       sync.Mutex
	armed    map[P]bool
	parked   []*Arrival[P]
	arrivals chan *Arrival[P]
}

// New returns a Scheduler with no armed points.
func New[P comparable]() *Scheduler[P] {
	return &Scheduler[P]{
		armed:    make(map[P]bool),
		arrivals: make(chan *Arrival[P], 64),
	}
}

// Arm makes goroutines reaching p park.
func (s *Scheduler[P]) Arm(p P) {
	s.mu.Lock()
	s.armed[p] = true
	s.mu.Unlock()
}

// Disarm stops parking at p. Goroutines already parked stay parked.
func (s *Scheduler[P]) Disarm(p P) {
	s.mu.Lock()
	delete(s.armed, p)
	s.mu.Unlock()
}

// Probe is the hook code under test calls at point p.
//
// It returns immediately for unarmed points.
func (s *Scheduler[P]) Probe(p P) {
	s.mu.Lock()
	if !s.armed[p] {
		s.mu.Unlock()
		return
	}
	a := &Arrival[P]{Point: p, resume: make(chan struct{})}
	s.parked = append(s.parked, a)
	s.mu.Unlock()

	s.arrivals <- a
	<-a.resume
}

// Await returns the next goroutine to park, or ok == false if none parks
// within timeout.
func (s *Scheduler[P]) Await(timeout time.Duration) (a *Arrival[P], ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case a = <-s.arrivals:
		return a, true
	case <-timer.C:
		return nil, false
	}
}

// ResumeAll disarms every point and releases every parked goroutine.
//
// Call it (usually deferred) so a failing test never leaks goroutines.
func (s *Scheduler[P]) ResumeAll() {
	s.mu.Lock()
	s.armed = make(map[P]bool)
	parked := s.parked
	s.parked = nil
	s.mu.Unlock()

	for _, a := range parked {
		a.Resume()
	}
}
