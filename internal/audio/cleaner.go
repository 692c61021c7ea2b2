package audio

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/interview-voice-lab/internal/logging"
)

// StartCleaner starts a goroutine that periodically prunes saved clips in
// dir: pairs older than retention are removed, then the oldest pairs until
// at most maxFiles remain. Caller must wg.Add(1) first; the goroutine calls
// wg.Done on exit.
func StartCleaner(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration, maxFiles int) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := CleanOnce(dir, retention, maxFiles, time.Now()); n > 0 {
					logging.Debugw("audio: cleaner removed clips", "dir", dir, "removed", n)
				}
			}
		}
	}()
}

type clipPair struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// CleanOnce runs a single pruning pass and returns the number of pairs
// removed.
func CleanOnce(dir string, retention time.Duration, maxFiles int, now time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("audio: cleaner readDir failed", "dir", dir, "err", err)
		return 0
	}
	var pairs []clipPair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(dir, name)
		b, err := os.ReadFile(jsonPath)
		if err != nil {
			continue
		}
		var clip Clip
		if err := json.Unmarshal(b, &clip); err != nil {
			continue
		}
		wavPath := clip.WAVPath
		if wavPath == "" {
			wavPath = strings.TrimSuffix(jsonPath, ".json") + ".wav"
		}
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		pairs = append(pairs, clipPair{jsonPath: jsonPath, wavPath: wavPath, mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	keep := pairs[:0]
	cutoff := now.Add(-retention)
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(cutoff) {
			removePair(p)
			removed++
			continue
		}
		keep = append(keep, p)
	}
	if maxFiles > 0 && len(keep) > maxFiles {
		for _, p := range keep[:len(keep)-maxFiles] {
			removePair(p)
			removed++
		}
	}
	return removed
}

func removePair(p clipPair) {
	_ = os.Remove(p.jsonPath)
	if p.wavPath != "" {
		_ = os.Remove(p.wavPath)
	}
}
