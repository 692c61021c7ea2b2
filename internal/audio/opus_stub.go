//go:build !opus
// +build !opus

package audio

// NewOpusMicrophone returns ErrNoOpus in non-opus builds.
func NewOpusMicrophone(packets <-chan []byte) (Microphone, error) { return nil, ErrNoOpus }
