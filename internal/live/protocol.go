// Package live speaks the bidirectional realtime audio protocol: the setup
// handshake, realtime PCM input and the server content stream carrying
// synthesized speech, transcripts and turn signals.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// InputMimeType tags every outbound PCM packet.
	InputMimeType = "audio/pcm;rate=16000"
	// DefaultVoice is used when Config.VoiceName is empty.
	DefaultVoice = "Kore"

	modalityAudio = "AUDIO"
)

// Config is sent once at connect time.
type Config struct {
	Model             string
	SystemInstruction string
	VoiceName         string
}

// Packet is one encoded block of microphone audio.
type Packet struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// Message is one inbound server message flattened into the fields the
// session cares about. Any subset may be set.
type Message struct {
	AudioData        string
	OutputTranscript string
	InputTranscript  string
	TurnComplete     bool
	Interrupted      bool
	SetupComplete    bool
	GoAway           bool
}

// Empty reports whether the message carries nothing actionable.
func (m Message) Empty() bool {
	return m == Message{}
}

// Conn is an established realtime session.
type Conn interface {
	// Send transmits one audio packet. It does not wait for any reply.
	Send(ctx context.Context, pkt Packet) error
	// Receive blocks until the next server message. io.EOF signals an
	// orderly remote close.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens realtime sessions. Dial returns once the remote handshake
// has completed or failed.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

type setupMessage struct {
	Setup setupContent `json:"setup"`
}

type setupContent struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []Packet `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text,omitempty"`
}

// ModelPath normalizes a model id to the models/{id} form.
func ModelPath(model string) string {
	model = strings.TrimSpace(model)
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// EncodeSetup builds the handshake message for cfg.
func EncodeSetup(cfg Config) ([]byte, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("live: model is required")
	}
	voice := cfg.VoiceName
	if voice == "" {
		voice = DefaultVoice
	}
	msg := setupMessage{Setup: setupContent{
		Model: ModelPath(cfg.Model),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{modalityAudio},
			SpeechConfig: &speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoice{VoiceName: voice},
			}},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	return json.Marshal(msg)
}

// EncodePacket wraps pkt as a realtime input message.
func EncodePacket(pkt Packet) ([]byte, error) {
	if pkt.MimeType == "" {
		pkt.MimeType = InputMimeType
	}
	return json.Marshal(realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: []Packet{pkt}}})
}

// DecodeMessage parses one server frame. Only the first inline audio part
// of a model turn is surfaced.
func DecodeMessage(data []byte) (Message, error) {
	var raw serverMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("live: decode server message: %w", err)
	}
	msg := Message{
		SetupComplete: raw.SetupComplete != nil,
		GoAway:        raw.GoAway != nil,
	}
	sc := raw.ServerContent
	if sc == nil {
		return msg, nil
	}
	if sc.ModelTurn != nil && len(sc.ModelTurn.Parts) > 0 {
		if d := sc.ModelTurn.Parts[0].InlineData; d != nil {
			msg.AudioData = d.Data
		}
	}
	if sc.OutputTranscription != nil {
		msg.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.InputTranscription != nil {
		msg.InputTranscript = sc.InputTranscription.Text
	}
	msg.TurnComplete = sc.TurnComplete
	msg.Interrupted = sc.Interrupted
	return msg, nil
}
