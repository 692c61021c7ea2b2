// Package playback schedules decoded speech buffers back to back on an
// audio clock.
package playback

import (
	"sort"
	"sync"
	"time"
)

// Buffer is one decoded server audio message placed on the output clock.
type Buffer struct {
	ID         uint64
	Samples    []float32
	SampleRate int
	Start      time.Duration
}

// Duration is the playing time of the buffer's samples.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// End is the clock time at which the last sample finishes.
func (b *Buffer) End() time.Duration { return b.Start + b.Duration() }

// Output is an audio context with its own clock. Start must invoke onEnded
// once the buffer has fully played; Stop silences a buffer without calling
// onEnded. Both must be safe after Close.
type Output interface {
	Now() time.Duration
	Start(buf *Buffer, onEnded func())
	Stop(buf *Buffer)
	Close() error
}

// Scheduler places buffers gaplessly: each starts at the later of the
// output clock and the previous buffer's end.
type Scheduler struct {
	out Output

	mu      sync.Mutex
	next    time.Duration
	seq     uint64
	pending map[uint64]*Buffer
}

func NewScheduler(out Output) *Scheduler {
	return &Scheduler{out: out, pending: make(map[uint64]*Buffer)}
}

// Schedule materializes samples as a Buffer, advances the next start time
// by its duration and hands it to the output. Callers schedule from a
// single goroutine so buffers reach the output in receipt order.
func (s *Scheduler) Schedule(samples []float32, sampleRate int) *Buffer {
	now := s.out.Now()
	s.mu.Lock()
	start := s.next
	if now > start {
		start = now
	}
	s.seq++
	buf := &Buffer{ID: s.seq, Samples: samples, SampleRate: sampleRate, Start: start}
	s.next = buf.End()
	s.pending[buf.ID] = buf
	s.mu.Unlock()

	s.out.Start(buf, func() { s.release(buf.ID) })
	return buf
}

func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Flush stops every pending buffer, empties the set and resets the next
// start time to zero. It returns how many buffers were stopped.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	stopped := make([]*Buffer, 0, len(s.pending))
	for _, b := range s.pending {
		stopped = append(stopped, b)
	}
	s.pending = make(map[uint64]*Buffer)
	s.next = 0
	s.mu.Unlock()

	for _, b := range stopped {
		s.out.Stop(b)
	}
	return len(stopped)
}

// Next is the earliest start time for the next buffer.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns the not yet finished buffers ordered by start time.
func (s *Scheduler) Pending() []*Buffer {
	s.mu.Lock()
	out := make([]*Buffer, 0, len(s.pending))
	for _, b := range s.pending {
		out = append(out, b)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
