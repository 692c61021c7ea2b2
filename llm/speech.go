package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/interview-voice-lab/internal/audio"
)

// SpeechSampleRate is the PCM rate of the TTS model output.
const SpeechSampleRate = 24000

var markdownStripper = strings.NewReplacer("*", "", "#", "", "`", "")

// SynthesizeSpeech reads text aloud with the TTS model and returns a WAV file.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	const op = "synthesize speech"
	prompt := fmt.Sprintf("Read the following educational content clearly and professionally, "+
		"maintaining an engaging tone suitable for learning: %q", markdownStripper.Replace(text))

	req := promptRequest(prompt)
	cfg := &generationConfig{ResponseModalities: []string{"AUDIO"}, SpeechConfig: &speechConfig{}}
	cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = c.Voice
	req.GenerationConfig = cfg

	model := c.TTSModel
	if model == "" {
		model = c.Model
	}
	resp, err := c.generateWith(ctx, model, req)
	if err != nil {
		return nil, &GenerationError{Op: op, Err: err}
	}
	p, ok := resp.firstPart()
	if !ok || p.InlineData == nil || p.InlineData.Data == "" {
		return nil, &GenerationError{Op: op, Err: fmt.Errorf("%w: no audio data returned", ErrEmptyResponse)}
	}
	pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
	if err != nil {
		return nil, &GenerationError{Op: op, Err: fmt.Errorf("%w: %v", audio.ErrMalformedAudio, err)}
	}
	return audio.BuildWAV(pcm, SpeechSampleRate, 1, 16), nil
}
