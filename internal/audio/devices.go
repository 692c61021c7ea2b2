package audio

import (
	"context"
	"errors"

	"github.com/interview-voice-lab/internal/playback"
)

// ErrNoAudioDevice is returned by the device constructors in builds without
// the portaudio tag.
var ErrNoAudioDevice = errors.New("audio: built without audio device support (use -tags portaudio)")

// ErrNoOpus is returned by NewOpusMicrophone in builds without the opus tag.
var ErrNoOpus = errors.New("audio: built without opus support (use -tags opus)")

// CaptureConfig describes the requested microphone stream.
type CaptureConfig struct {
	SampleRate       int
	Channels         int
	FrameSize        int
	EchoCancellation bool
}

// DefaultCaptureConfig is the 16 kHz mono stream the realtime endpoint
// expects.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:       InputSampleRate,
		Channels:         1,
		FrameSize:        FrameSize,
		EchoCancellation: true,
	}
}

// Capture is an open microphone stream. Frames is closed once the stream
// stops for any reason.
type Capture interface {
	Frames() <-chan []float32
	Close() error
}

// Microphone acquires capture streams.
type Microphone interface {
	Open(ctx context.Context, cfg CaptureConfig) (Capture, error)
}

// Speaker opens an output context at a fixed sample rate.
type Speaker interface {
	Open(sampleRate int) (playback.Output, error)
}
