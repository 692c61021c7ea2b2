// Package config loads process configuration from the environment once, in
// main, so every other package receives its settings explicitly.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/interview-voice-lab/internal/logging"
)

const (
	DefaultLiveURL              = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultLiveModel            = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice                = "Kore"
	DefaultBaseURL              = "https://generativelanguage.googleapis.com/v1beta"
	DefaultContentModel         = "gemini-3-flash-preview"
	DefaultContentFallbackModel = "gemini-2.5-flash"
	DefaultTTSModel             = "gemini-2.5-flash-preview-tts"
)

// ErrMissingAPIKey is returned by Load when GEMINI_API_KEY is unset.
var ErrMissingAPIKey = errors.New("config: GEMINI_API_KEY required")

type Config struct {
	APIKey string

	LiveURL   string
	LiveModel string
	LiveVoice string

	BaseURL              string
	ContentModel         string
	ContentFallbackModel string
	TTSModel             string
	LLMTimeout           time.Duration

	SendQueueSize int
	MetricsAddr   string

	SaveAudioDir       string
	SaveAudioRetention time.Duration
	SaveAudioMaxFiles  int

	Port     string
	LogLevel string
}

// Lookup abstracts os.LookupEnv for tests.
type Lookup func(key string) (string, bool)

// Load reads an optional .env file from the working directory, then the
// process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warnw("config: .env present but unreadable", "err", err)
	}
	return FromLookup(os.LookupEnv)
}

// LoadFile reads settings from a specific dotenv file without touching the
// process environment. Unset keys fall back to the environment.
func LoadFile(path string) (Config, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return Config{}, err
	}
	return FromLookup(func(k string) (string, bool) {
		if v, ok := vals[k]; ok {
			return v, true
		}
		return os.LookupEnv(k)
	})
}

// FromLookup builds a Config from lookup. Invalid numbers warn and fall
// back to their defaults.
func FromLookup(lookup Lookup) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		APIKey:               e.str("GEMINI_API_KEY", ""),
		LiveURL:              e.str("GEMINI_LIVE_URL", DefaultLiveURL),
		LiveModel:            e.str("LIVE_MODEL", DefaultLiveModel),
		LiveVoice:            e.str("LIVE_VOICE", DefaultVoice),
		BaseURL:              strings.TrimRight(e.str("GEMINI_BASE_URL", DefaultBaseURL), "/"),
		ContentModel:         e.str("CONTENT_MODEL", DefaultContentModel),
		ContentFallbackModel: e.str("CONTENT_FALLBACK_MODEL", DefaultContentFallbackModel),
		TTSModel:             e.str("TTS_MODEL", DefaultTTSModel),
		LLMTimeout:           time.Duration(e.positiveInt("LLM_TIMEOUT_MS", 60000)) * time.Millisecond,
		SendQueueSize:        e.positiveInt("SEND_QUEUE_SIZE", 32),
		MetricsAddr:          e.str("METRICS_ADDR", ""),
		SaveAudioDir:         e.str("SAVE_AUDIO_DIR", ""),
		SaveAudioRetention:   time.Duration(e.positiveInt("SAVE_AUDIO_RETENTION_HOURS", 24)) * time.Hour,
		SaveAudioMaxFiles:    e.nonNegativeInt("SAVE_AUDIO_MAX_FILES", 100),
		Port:                 e.str("PORT", "9000"),
		LogLevel:             e.str("LOG_LEVEL", "info"),
	}
	if cfg.APIKey == "" {
		return cfg, ErrMissingAPIKey
	}
	return cfg, nil
}

// LogFields describes cfg for a startup log line with secrets masked.
func (c Config) LogFields() []interface{} {
	return []interface{}{
		"api_key", Redact(c.APIKey),
		"live_url", c.LiveURL,
		"live_model", c.LiveModel,
		"live_voice", c.LiveVoice,
		"content_model", c.ContentModel,
		"content_fallback_model", c.ContentFallbackModel,
		"tts_model", c.TTSModel,
		"llm_timeout", c.LLMTimeout.String(),
		"send_queue_size", c.SendQueueSize,
		"metrics_addr", c.MetricsAddr,
		"save_audio_dir", c.SaveAudioDir,
	}
}

// Redact keeps the last four characters of a secret.
func Redact(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "<redacted>"
	default:
		return "<redacted>" + secret[len(secret)-4:]
	}
}

type env struct {
	lookup Lookup
}

func (e env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e env) positiveInt(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logging.Warnw("config: invalid value; using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func (e env) nonNegativeInt(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logging.Warnw("config: invalid value; using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}
