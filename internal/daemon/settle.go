package daemon

import (
	"sync"
	"time"
)

// settler delays a callback per path until events for that path go quiet.
// A repeat event before the delay elapses restarts the path's timer.
type settler struct {
	delay time.Duration
	fn    func(path string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newSettler(delay time.Duration, fn func(path string)) *settler {
	return &settler{
		delay:  delay,
		fn:     fn,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger schedules fn(path) after the settle delay.
func (s *settler) Trigger(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if t, ok := s.timers[path]; ok {
		t.Stop()
	}

	s.timers[path] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, path)
		s.mu.Unlock()

		s.fn(path)
	})
}

// Pending returns the number of paths waiting to settle.
func (s *settler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending callback. Later triggers are ignored.
func (s *settler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
}
