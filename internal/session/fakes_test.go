package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/live"
	"github.com/interview-voice-lab/internal/playback"
)

type fakeConn struct {
	incoming chan live.Message
	recvErr  chan error
	done     chan struct{}
	// sendGate, when non-nil, blocks every Send until it yields.
	sendGate chan struct{}

	mu     sync.Mutex
	sent   []live.Packet
	closed bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan live.Message, 16),
		recvErr:  make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, pkt live.Packet) error {
	if c.sendGate != nil {
		select {
		case <-c.sendGate:
		case <-c.done:
			return errors.New("closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, pkt)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (live.Message, error) {
	select {
	case m := <-c.incoming:
		return m, nil
	case err := <-c.recvErr:
		return live.Message{}, err
	case <-c.done:
		return live.Message{}, errors.New("use of closed connection")
	case <-ctx.Done():
		return live.Message{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentPackets() []live.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.Packet(nil), c.sent...)
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	// entered is closed when Dial starts; release, when non-nil, holds
	// Dial until closed. honorCtx makes a held Dial return on ctx.Done.
	entered  chan struct{}
	release  chan struct{}
	honorCtx bool

	mu    sync.Mutex
	calls int
	cfgs  []live.Config
}

func (d *fakeDialer) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	d.mu.Lock()
	d.calls++
	d.cfgs = append(d.cfgs, cfg)
	d.mu.Unlock()
	if d.entered != nil {
		close(d.entered)
	}
	if d.release != nil {
		if d.honorCtx {
			select {
			case <-d.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-d.release
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeCapture struct {
	frames chan []float32
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (c *fakeCapture) Frames() <-chan []float32 { return c.frames }

func (c *fakeCapture) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.frames)
	})
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push feeds a frame unless the capture has been closed.
func (c *fakeCapture) push(frame []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

type fakeMic struct {
	err     error
	capture *fakeCapture
	cfg     audio.CaptureConfig
}

func (m *fakeMic) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.cfg = cfg
	m.capture = &fakeCapture{frames: make(chan []float32, 64)}
	return m.capture, nil
}

// fakeOutput is a playback.Output with a manual clock.
type fakeOutput struct {
	mu      sync.Mutex
	now     time.Duration
	started []*playback.Buffer
	stopped []*playback.Buffer
	closed  bool
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Start(b *playback.Buffer, onEnded func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, b)
}

func (o *fakeOutput) Stop(b *playback.Buffer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, b)
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) snapshot() (started, stopped []*playback.Buffer, closed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*playback.Buffer(nil), o.started...), append([]*playback.Buffer(nil), o.stopped...), o.closed
}

type fakeSpeaker struct {
	err  error
	rate int
	out  *fakeOutput
}

func (s *fakeSpeaker) Open(sampleRate int) (playback.Output, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.rate = sampleRate
	s.out = &fakeOutput{}
	return s.out, nil
}
