package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) Lookup {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromLookup(mapLookup(map[string]string{"GEMINI_API_KEY": "k-123456"}))
	require.NoError(t, err)
	assert.Equal(t, DefaultLiveModel, cfg.LiveModel)
	assert.Equal(t, "Kore", cfg.LiveVoice)
	assert.Equal(t, DefaultContentModel, cfg.ContentModel)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 32, cfg.SendQueueSize)
	assert.Equal(t, 24*time.Hour, cfg.SaveAudioRetention)
	assert.Equal(t, 100, cfg.SaveAudioMaxFiles)
}

func TestMissingAPIKey(t *testing.T) {
	_, err := FromLookup(mapLookup(nil))
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	cfg, err := FromLookup(mapLookup(map[string]string{
		"GEMINI_API_KEY":       "k",
		"SEND_QUEUE_SIZE":      "zero",
		"LLM_TIMEOUT_MS":       "-5",
		"SAVE_AUDIO_MAX_FILES": "0",
		"GEMINI_BASE_URL":      "http://localhost:1234/",
	}))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.SendQueueSize)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 0, cfg.SaveAudioMaxFiles)
	assert.Equal(t, "http://localhost:1234", cfg.BaseURL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-file\nLIVE_VOICE=Puck\nLOG_LEVEL=debug\n"), 0o600))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, "Puck", cfg.LiveVoice)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "<redacted>", Redact("abc"))
	assert.Equal(t, "<redacted>wxyz", Redact("secret-wxyz"))
}
