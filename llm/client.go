package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/interview-voice-lab/internal/config"
	"github.com/interview-voice-lab/internal/logging"
)

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	TTSModel      string
	Voice         string
	HTTP          *http.Client

	// Retries is the number of extra attempts per model on transient failures.
	Retries int
	// Backoff is the first retry delay; it doubles on every attempt.
	Backoff time.Duration
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
	// ErrEmptyResponse means the model returned no candidate content.
	ErrEmptyResponse = errors.New("empty response")
)

// GenerationError wraps any failure of a content operation.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("llm: %s: %v", e.Op, e.Err) }

func (e *GenerationError) Unwrap() error { return e.Err }

func NewClient(cfg config.Config) *Client {
	voice := cfg.LiveVoice
	if voice == "" {
		voice = config.DefaultVoice
	}
	return &Client{
		BaseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:        cfg.APIKey,
		Model:         cfg.ContentModel,
		FallbackModel: cfg.ContentFallbackModel,
		TTSModel:      cfg.TTSModel,
		Voice:         voice,
		HTTP:          &http.Client{Timeout: cfg.LLMTimeout},
		Retries:       2,
		Backoff:       200 * time.Millisecond,
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type generationConfig struct {
	ResponseMimeType   string          `json:"responseMimeType,omitempty"`
	ResponseJSONSchema json.RawMessage `json:"responseJsonSchema,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig   `json:"speechConfig,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func promptRequest(prompt string) generateRequest {
	return generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}}
}

// firstPart returns the first part of the first candidate.
func (r generateResponse) firstPart() (part, bool) {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return part{}, false
	}
	return r.Candidates[0].Content.Parts[0], true
}

// text concatenates the text parts of the first candidate.
func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// generate runs req against Model and, when Model keeps failing transiently,
// once against FallbackModel.
func (c *Client) generate(ctx context.Context, req generateRequest) (generateResponse, error) {
	resp, err := c.generateWith(ctx, c.Model, req)
	if err == nil || !errors.Is(err, ErrTransient) {
		return resp, err
	}
	if c.FallbackModel == "" || c.FallbackModel == c.Model {
		return resp, err
	}
	logging.Warnw("llm: falling back", "model", c.Model, "fallback", c.FallbackModel, "error", err)
	if werr := sleep(ctx, 250*time.Millisecond); werr != nil {
		return generateResponse{}, werr
	}
	return c.generateWith(ctx, c.FallbackModel, req)
}

// generateWith posts req to model with exponential backoff on transient errors.
func (c *Client) generateWith(ctx context.Context, model string, req generateRequest) (generateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, c.Backoff*time.Duration(1<<(attempt-1))); werr != nil {
				return generateResponse{}, werr
			}
		}
		resp, err := c.post(ctx, model, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			break
		}
		logging.Debugw("llm: transient failure", "model", model, "attempt", attempt+1, "error", err)
	}
	return generateResponse{}, lastErr
}

func (c *Client) post(ctx context.Context, model string, body []byte) (generateResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.APIKey)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return generateResponse{}, ctx.Err()
		}
		return generateResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return generateResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		return out, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return generateResponse{}, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, msg)
	}
	return generateResponse{}, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
