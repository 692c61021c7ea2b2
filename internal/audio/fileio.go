package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SaveFileAtomic writes data to a tmp file in the same directory, fsyncs it
// and renames it into place.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Clip describes one synthesized WAV written to disk. It is stored next to
// the WAV as a JSON sidecar so the cleaner can pair them.
type Clip struct {
	ID        string    `json:"id"`
	WAVPath   string    `json:"wav_path"`
	Text      string    `json:"text"`
	Model     string    `json:"model,omitempty"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveClip writes wav and its sidecar into dir, both atomically. The WAV
// lands first so a sidecar never points at a missing file.
func SaveClip(dir string, clip Clip, wav []byte) (Clip, error) {
	if strings.TrimSpace(clip.ID) == "" {
		return clip, fmt.Errorf("audio: clip id is required")
	}
	clip.WAVPath = filepath.Join(dir, clip.ID+".wav")
	clip.Bytes = len(wav)
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	if err := SaveFileAtomic(clip.WAVPath, wav, 0o644); err != nil {
		return clip, fmt.Errorf("audio: save wav: %w", err)
	}
	meta, err := json.MarshalIndent(clip, "", "  ")
	if err != nil {
		return clip, err
	}
	if err := SaveFileAtomic(filepath.Join(dir, clip.ID+".json"), meta, 0o644); err != nil {
		return clip, fmt.Errorf("audio: save sidecar: %w", err)
	}
	return clip, nil
}
