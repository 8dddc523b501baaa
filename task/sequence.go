package task

import (
	"sync/atomic"
	"time"
)

// Sequence hands out strictly increasing scores made of the wall clock in
// milliseconds times 1000 plus a counter, so order survives process restarts
// and stays exact in a float64 for the next few centuries.
type Sequence struct {
	last atomic.Int64
	now  func() time.Time
}

func NewSequence() *Sequence {
	return &Sequence{now: time.Now}
}

func (s *Sequence) Next() float64 {
	for {
		last := s.last.Load()
		next := s.now().UnixMilli() * 1000
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return float64(next)
		}
	}
}
