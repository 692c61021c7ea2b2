package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/interview-voice-lab/internal/logging"
)

// BlockWriter is a blocking sink for fixed-size mono blocks, typically a
// sound card stream. WriteBlock returns once the block has been queued on
// the device, which paces the Player to real time.
type BlockWriter interface {
	WriteBlock(block []float32) error
}

// Player is an Output that mixes scheduled buffers into a BlockWriter. Its
// clock counts samples mixed, so Now advances exactly as fast as the device
// consumes audio and never points into a block that is already committed.
// Silence is written when nothing is due.
type Player struct {
	w         BlockWriter
	rate      int
	blockSize int

	mu      sync.Mutex
	written int64
	mixed   int64
	lag     int64 // samples every later Start is pushed back by, until idle
	active  map[uint64]*voice
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type voice struct {
	buf     *Buffer
	first   int64 // absolute sample index of Samples[0]
	onEnded func()
}

// NewPlayer starts the mixing loop. The loop ends on Close or on the first
// WriteBlock error.
func NewPlayer(w BlockWriter, sampleRate, blockSize int) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		w:         w,
		rate:      sampleRate,
		blockSize: blockSize,
		active:    make(map[uint64]*voice),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Now returns the time of the earliest sample that can still be mixed.
func (p *Player) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.mixed) * time.Second / time.Duration(p.rate)
}

func (p *Player) Start(buf *Buffer, onEnded func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	first := int64(buf.Start*time.Duration(p.rate)/time.Second) + p.lag
	if first < p.mixed {
		// The block covering Start was mixed between Now and Start. Shift
		// the rest of the chain by the same amount so it stays gapless.
		p.lag += p.mixed - first
		first = p.mixed
	}
	p.active[buf.ID] = &voice{buf: buf, first: first, onEnded: onEnded}
}

func (p *Player) Stop(buf *Buffer) {
	p.mu.Lock()
	delete(p.active, buf.ID)
	if len(p.active) == 0 {
		p.lag = 0
	}
	p.mu.Unlock()
}

// Close stops the loop, closes the writer when it is an io.Closer and drops
// every active buffer without calling onEnded.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.active = make(map[uint64]*voice)
	p.lag = 0
	p.mu.Unlock()

	p.cancel()
	var err error
	if c, ok := p.w.(io.Closer); ok {
		err = c.Close()
	}
	p.wg.Wait()
	return err
}

func (p *Player) loop() {
	defer p.wg.Done()
	block := make([]float32, p.blockSize)
	for {
		if p.ctx.Err() != nil {
			return
		}
		ended := p.mix(block)
		if err := p.w.WriteBlock(block); err != nil {
			if p.ctx.Err() == nil && !errors.Is(err, io.ErrClosedPipe) {
				logging.Warnw("playback: write failed, stopping player", "err", err)
			}
			return
		}
		p.mu.Lock()
		p.written += int64(len(block))
		p.mu.Unlock()
		for _, fn := range ended {
			if fn != nil {
				fn()
			}
		}
	}
}

// mix fills block with the samples of every active buffer that overlaps
// [written, written+len(block)) and returns the callbacks of buffers whose
// last sample lands in this block.
func (p *Player) mix(block []float32) []func() {
	for i := range block {
		block[i] = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	lo := p.written
	hi := lo + int64(len(block))
	p.mixed = hi
	var ended []func()
	for id, v := range p.active {
		last := v.first + int64(len(v.buf.Samples))
		if v.first >= hi {
			continue
		}
		from := v.first
		if from < lo {
			from = lo
		}
		to := last
		if to > hi {
			to = hi
		}
		for i := from; i < to; i++ {
			s := block[i-lo] + v.buf.Samples[i-v.first]
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			block[i-lo] = s
		}
		if last <= hi {
			delete(p.active, id)
			ended = append(ended, v.onEnded)
		}
	}
	if len(p.active) == 0 {
		p.lag = 0
	}
	return ended
}
