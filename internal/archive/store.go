// Package archive saves recorded user turns as WAV files with a JSON
// sidecar, and prunes them by age and count.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/voice-coach-lab/internal/audio"
	"github.com/voice-coach-lab/internal/logging"
)

// Store writes turns into Dir. A nil Store is a no-op.
type Store struct {
	Dir string

	mu    sync.Mutex
	index map[string]string // turn id -> sidecar path
	now   func() time.Time
}

// NewStore returns nil when dir is empty so callers can leave archiving off.
func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &Store{Dir: dir, index: make(map[string]string), now: time.Now}
}

// SaveTurn writes the WAV and its sidecar.
func (s *Store) SaveTurn(callID string, t *audio.RecordedTurn) error {
	if s == nil || t == nil {
		return nil
	}
	base := fmt.Sprintf("%s-%s", t.StartedAt.UTC().Format("20060102T150405.000Z"), t.ID)
	wavPath := filepath.Join(s.Dir, base+".wav")
	jsonPath := filepath.Join(s.Dir, base+".json")

	if err := writeAtomic(wavPath, t.WAV(), 0o644); err != nil {
		return fmt.Errorf("save wav %s: %w", wavPath, err)
	}
	sc := map[string]interface{}{
		"call_id":     callID,
		"turn_id":     t.ID,
		"wav_path":    wavPath,
		"sample_rate": t.SampleRate,
		"duration_ms": t.Duration().Milliseconds(),
		"started_utc": t.StartedAt.UTC().Format(time.RFC3339Nano),
		"saved_utc":   s.now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(jsonPath, b, 0o644); err != nil {
		return fmt.Errorf("save sidecar %s: %w", jsonPath, err)
	}
	s.mu.Lock()
	s.index[t.ID] = jsonPath
	s.mu.Unlock()
	logging.Debugw("archive: saved turn", "turn.id", t.ID, "call.id", callID, "path", wavPath)
	return nil
}

// Annotate merges fields into the sidecar of turnID and rewrites it.
func (s *Store) Annotate(turnID string, fields map[string]interface{}) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.findLocked(turnID)
	if path == "" {
		return fmt.Errorf("sidecar not found for turn=%s (searched dir=%s)", turnID, s.Dir)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sidecar %s: %w", path, err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range fields {
		sc[k] = v
	}
	nb, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar %s: %w", path, err)
	}
	if err := writeAtomic(path, nb, 0o644); err != nil {
		return err
	}
	return nil
}

// findLocked resolves a sidecar by turn id, falling back to a directory
// scan for turns saved by an earlier process.
func (s *Store) findLocked(turnID string) string {
	if turnID == "" {
		return ""
	}
	if p, ok := s.index[turnID]; ok {
		return p
	}
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Warnw("archive: failed to list dir", "dir", s.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		name := fi.Name()
		if strings.HasSuffix(name, ".json") && strings.Contains(name, turnID) {
			p := filepath.Join(s.Dir, name)
			s.index[turnID] = p
			return p
		}
	}
	return ""
}
