package pipeline

import "sync/atomic"

// IDGenerator hands out monotonically increasing ids.
type IDGenerator interface {
	Next() int64
}

// Sequence is an IDGenerator seeded from the highest persisted id.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a sequence whose first id is start+1.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}

// Seed raises the sequence floor to at least max.
func (s *Sequence) Seed(max int64) {
	for {
		cur := s.last.Load()
		if cur >= max || s.last.CompareAndSwap(cur, max) {
			return
		}
	}
}

// Last returns the most recently issued id.
func (s *Sequence) Last() int64 {
	return s.last.Load()
}
