// Package sequence provides the engine-wide sequence counter: the single
// source of truth for admission order and time-priority tie breaks.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence IDs. The counter ticks
// exactly once per admitted order and once per trade.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer. start is 0 on a fresh boot, or the last
// replayed sequence after recovery.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence ID.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Advance raises the counter to at least v. Used while replaying
// journaled commands that carry their original IDs.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.next.Load()
		if cur >= v || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
