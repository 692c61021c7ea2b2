//go:build !portaudio
// +build !portaudio

package audio

// Builds without PortAudio have no local devices. The session manager still
// runs with injected Microphone and Speaker implementations.

// NewDefaultMicrophone returns ErrNoAudioDevice in non-portaudio builds.
func NewDefaultMicrophone() (Microphone, error) { return nil, ErrNoAudioDevice }

// NewDefaultSpeaker returns ErrNoAudioDevice in non-portaudio builds.
func NewDefaultSpeaker() (Speaker, error) { return nil, ErrNoAudioDevice }
