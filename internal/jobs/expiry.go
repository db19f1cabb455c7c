package jobs

import (
	"container/heap"
	"sync"
	"time"

	"github.com/openclaw/pairing-gateway-go/internal/clock"
)

type expiryEntry struct {
	at   time.Time
	code string
}

type expiryQueue []expiryEntry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiryEntry)) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

// ExpiryScheduler calls onExpire for each code once its deadline passes.
// Only the earliest deadline holds a timer. onExpire must tolerate codes
// that were already linked, used or reissued.
type ExpiryScheduler struct {
	clock    clock.Clock
	onExpire func(code string)

	mu      sync.Mutex
	queue   expiryQueue
	timer   clock.Timer
	gen     uint64
	stopped bool
}

func NewExpiryScheduler(clk clock.Clock, onExpire func(code string)) *ExpiryScheduler {
	return &ExpiryScheduler{clock: clk, onExpire: onExpire}
}

func (s *ExpiryScheduler) Schedule(code string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	earliest := s.queue.Len() == 0 || at.Before(s.queue[0].at)
	heap.Push(&s.queue, expiryEntry{at: at, code: code})
	if earliest {
		s.rearmLocked()
	}
}

// Len reports the number of pending deadlines.
func (s *ExpiryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
}

func (s *ExpiryScheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	var due []string
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		due = append(due, heap.Pop(&s.queue).(expiryEntry).code)
	}
	s.timer = nil
	s.rearmLocked()
	s.mu.Unlock()

	for _, code := range due {
		s.onExpire(code)
	}
}

func (s *ExpiryScheduler) rearmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if s.queue.Len() == 0 {
		return
	}
	gen := s.gen
	delay := s.queue[0].at.Sub(s.clock.Now())
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
}
