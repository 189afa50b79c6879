package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voice-coach-lab/internal/logging"
)

// StartCleaner prunes dir every interval until ctx is done. Caller must call
// wg.Add(1) first; the goroutine calls wg.Done on exit.
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
				if n := Clean(dir, time.Now(), retention, maxFiles); n > 0 {
					logging.Debugw("archive: pruned turns", "dir", dir, "removed", n)
				}
			}
		}
	}()
}

type pair struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// Clean removes sidecar/wav pairs older than retention, then the oldest
// pairs beyond maxFiles. It returns the number of pairs removed.
func Clean(dir string, now time.Time, retention time.Duration, maxFiles int) int {
	files, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("archive: cleanup readDir failed", "err", err)
		return 0
	}
	var pairs []pair
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(dir, name)
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc map[string]interface{}
			if json.Unmarshal(b, &sc) == nil {
				if v, ok := sc["wav_path"].(string); ok && v != "" {
					wavPath = v
				}
			}
		}
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		pairs = append(pairs, pair{jsonPath: jsonPath, wavPath: wavPath, mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	cutoff := now.Add(-retention)
	kept := pairs[:0]
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(cutoff) {
			p.remove()
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if maxFiles > 0 && len(kept) > maxFiles {
		for _, p := range kept[:len(kept)-maxFiles] {
			p.remove()
			removed++
		}
	}
	return removed
}

func (p pair) remove() {
	_ = os.Remove(p.jsonPath)
	if p.wavPath != "" {
		_ = os.Remove(p.wavPath)
	}
}
