//go:build opus

package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hraban/opus"

	"github.com/interview-voice-lab/internal/logging"
)

// maxOpusFrame is 120ms at 48 kHz, the largest frame an Opus packet holds.
const maxOpusFrame = 5760

// OpusMicrophone decodes a stream of Opus packets into capture frames.
// Only one capture may be open at a time since the packet source is shared.
type OpusMicrophone struct {
	packets <-chan []byte

	decodeErrCount int64
}

// NewOpusMicrophone wraps a packet source, typically ReadPackets(stdin).
func NewOpusMicrophone(packets <-chan []byte) (Microphone, error) {
	return &OpusMicrophone{packets: packets}, nil
}

// DecodeErrors reports how many packets failed to decode.
func (m *OpusMicrophone) DecodeErrors() int64 { return atomic.LoadInt64(&m.decodeErrCount) }

type opusCapture struct {
	frames chan []float32
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func (m *OpusMicrophone) Open(ctx context.Context, cfg CaptureConfig) (Capture, error) {
	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decoder: %w", err)
	}
	c := &opusCapture{
		frames: make(chan []float32, 4),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go m.loop(ctx, c, dec, cfg.FrameSize)
	return c, nil
}

func (m *OpusMicrophone) loop(ctx context.Context, c *opusCapture, dec *opus.Decoder, frameSize int) {
	defer c.wg.Done()
	defer close(c.frames)
	pcm := make([]float32, maxOpusFrame)
	accum := make([]float32, 0, frameSize*2)
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case pkt, ok := <-m.packets:
			if !ok {
				return
			}
			n, err := dec.DecodeFloat32(pkt, pcm)
			if err != nil {
				atomic.AddInt64(&m.decodeErrCount, 1)
				logging.Debugw("audio: opus decode error", "err", err, "len", len(pkt))
				continue
			}
			accum = append(accum, pcm[:n]...)
			for len(accum) >= frameSize {
				frame := make([]float32, frameSize)
				copy(frame, accum[:frameSize])
				accum = append(accum[:0], accum[frameSize:]...)
				select {
				case c.frames <- frame:
				case <-c.done:
					return
				}
			}
		}
	}
}

func (c *opusCapture) Frames() <-chan []float32 { return c.frames }

func (c *opusCapture) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}
