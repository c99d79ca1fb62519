package scheduler

import (
	"sort"
	"sync"
)

// slots bounds how many jobs run at once and remembers which are running.
// The limit is read on every reserve, so a config reload that changes
// MaxConcurrent takes effect on the next tick.
type slots struct {
	mu       sync.Mutex
	limit    func() int
	reserved int
	running  map[string]string // job id -> processor
}

func newSlots(limit func() int) *slots {
	return &slots{limit: limit, running: map[string]string{}}
}

func (s *slots) capacity() int {
	if n := s.limit(); n > 0 {
		return n
	}
	return 1
}

// reserve takes a free slot. The caller must follow with assign or cancel.
func (s *slots) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved >= s.capacity() {
		return false
	}
	s.reserved++
	return true
}

// cancel returns a reserved slot that never got a job.
func (s *slots) cancel() {
	s.mu.Lock()
	s.reserved--
	s.mu.Unlock()
}

func (s *slots) assign(id, processor string) {
	s.mu.Lock()
	s.running[id] = processor
	s.mu.Unlock()
}

// release frees the slot held by job id.
func (s *slots) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.reserved--
	s.mu.Unlock()
}

func (s *slots) free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.capacity() - s.reserved; n > 0 {
		return n
	}
	return 0
}

func (s *slots) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for id := range s.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
