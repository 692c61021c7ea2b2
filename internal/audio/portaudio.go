//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/internal/playback"
)

// OutputBlockSize is 40ms of speech at the output rate.
const OutputBlockSize = 960

var (
	paMu   sync.Mutex
	paRefs int
)

// acquire initializes PortAudio on first use. Every successful acquire must
// be paired with release.
func acquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("audio: initialize portaudio: %w", err)
		}
	}
	paRefs++
	return nil
}

func release() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		if err := portaudio.Terminate(); err != nil {
			logging.Debugw("audio: portaudio terminate failed", "err", err)
		}
	}
}

// PortAudioMicrophone captures from the default input device.
type PortAudioMicrophone struct{}

// PortAudioSpeaker plays through the default output device.
type PortAudioSpeaker struct {
	BlockSize int
}

// NewDefaultMicrophone returns the default input device.
func NewDefaultMicrophone() (Microphone, error) { return &PortAudioMicrophone{}, nil }

// NewDefaultSpeaker returns the default output device.
func NewDefaultSpeaker() (Speaker, error) { return &PortAudioSpeaker{BlockSize: OutputBlockSize}, nil }

type paCapture struct {
	stream *portaudio.Stream
	frames chan []float32
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Open starts a blocking input stream and delivers one copy of the buffer
// per Read.
func (m *PortAudioMicrophone) Open(ctx context.Context, cfg CaptureConfig) (Capture, error) {
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("audio: only mono capture is supported, got %d channels", cfg.Channels)
	}
	if err := acquire(); err != nil {
		return nil, err
	}
	if cfg.EchoCancellation {
		logging.Debugw("audio: echo cancellation requested; portaudio backend relies on the host device")
	}
	in := make([]float32, cfg.FrameSize)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSize, in)
	if err != nil {
		release()
		return nil, fmt.Errorf("audio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("audio: start input stream: %w", err)
	}
	c := &paCapture{
		stream: stream,
		frames: make(chan []float32, 4),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop(ctx, in)
	logging.Infow("audio: microphone opened", logging.FrameFields(cfg.FrameSize, cfg.SampleRate)...)
	return c, nil
}

func (c *paCapture) loop(ctx context.Context, in []float32) {
	defer c.wg.Done()
	defer close(c.frames)
	for {
		if err := c.stream.Read(); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			// Input overflow is recoverable; anything else ends the stream.
			if err == portaudio.InputOverflowed {
				continue
			}
			logging.Warnw("audio: input stream read failed", "err", err)
			return
		}
		frame := make([]float32, len(in))
		copy(frame, in)
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *paCapture) Frames() <-chan []float32 { return c.frames }

func (c *paCapture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.stream.Stop()
		c.wg.Wait()
		if cerr := c.stream.Close(); err == nil {
			err = cerr
		}
		release()
	})
	return err
}

type paWriter struct {
	stream *portaudio.Stream
	out    []float32
	once   sync.Once
}

func (w *paWriter) WriteBlock(block []float32) error {
	copy(w.out, block)
	err := w.stream.Write()
	if err == portaudio.OutputUnderflowed {
		return nil
	}
	return err
}

func (w *paWriter) Close() error {
	var err error
	w.once.Do(func() {
		err = w.stream.Stop()
		if cerr := w.stream.Close(); err == nil {
			err = cerr
		}
		release()
	})
	return err
}

// Open starts a blocking output stream and returns a Player clocked by it.
func (s *PortAudioSpeaker) Open(sampleRate int) (playback.Output, error) {
	block := s.BlockSize
	if block <= 0 {
		block = OutputBlockSize
	}
	if err := acquire(); err != nil {
		return nil, err
	}
	out := make([]float32, block)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), block, out)
	if err != nil {
		release()
		return nil, fmt.Errorf("audio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("audio: start output stream: %w", err)
	}
	return playback.NewPlayer(&paWriter{stream: stream, out: out}, sampleRate, block), nil
}
