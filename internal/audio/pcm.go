// Package audio converts between captured float samples and the 16-bit PCM
// wire representation, and hosts the device and file helpers around it.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/interview-voice-lab/internal/live"
)

const (
	// InputSampleRate is the microphone capture rate.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized speech from the server.
	OutputSampleRate = 24000
	// FrameSize is the number of mono samples per captured frame.
	FrameSize = 4096

	// VolumeGain amplifies RMS energy into the displayed volume level.
	VolumeGain = 5.0
)

// ErrMalformedAudio is returned by DecodePCM for payloads that are not
// valid Base64 16-bit PCM.
var ErrMalformedAudio = errors.New("audio: malformed pcm payload")

// EncodeFrame converts samples to 16-bit little endian PCM, Base64 encodes
// the bytes and tags the packet with the PCM MIME type for sampleRate.
// Samples outside [-1, 1] are clamped.
func EncodeFrame(samples []float32, sampleRate int) live.Packet {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(floatToInt16(s)))
	}
	mime := live.InputMimeType
	if sampleRate != InputSampleRate {
		mime = fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
	}
	return live.Packet{Data: base64.StdEncoding.EncodeToString(buf), MimeType: mime}
}

func floatToInt16(s float32) int16 {
	v := float64(s) * 32768
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DecodePCM reverses the wire encoding: Base64 to little endian int16,
// each sample divided by 32768.
func DecodePCM(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedAudio)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedAudio, len(raw))
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return out, nil
}

// Volume returns min(RMS*VolumeGain, 1) for one frame. An empty frame is
// silent.
func Volume(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	v := math.Sqrt(sum/float64(len(samples))) * VolumeGain
	if v > 1 {
		return 1
	}
	return v
}

// Int16ToBytes serializes samples as little endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
