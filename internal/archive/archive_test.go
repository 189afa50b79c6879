package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voice-coach-lab/internal/audio"
)

func testTurn(id string, at time.Time) *audio.RecordedTurn {
	return &audio.RecordedTurn{ID: id, StartedAt: at, SampleRate: 1000, Chunks: [][]int16{{1, 2, 3}}}
}

func TestSaveAndAnnotate(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.SaveTurn("call-1", testTurn("turn-1", time.Unix(100, 0))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Annotate("turn-1", map[string]interface{}{"transcript": "hello"}); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one sidecar, got %v", matches)
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		t.Fatalf("sidecar json: %v", err)
	}
	if sc["call_id"] != "call-1" || sc["turn_id"] != "turn-1" || sc["transcript"] != "hello" {
		t.Fatalf("unexpected sidecar %v", sc)
	}
	wav, err := os.ReadFile(sc["wav_path"].(string))
	if err != nil || len(wav) != 44+6 {
		t.Fatalf("wav missing or wrong size: %d %v", len(wav), err)
	}
}

func TestAnnotateFindsSidecarFromEarlierProcess(t *testing.T) {
	dir := t.TempDir()
	if err := NewStore(dir).SaveTurn("c", testTurn("turn-x", time.Unix(5, 0))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := NewStore(dir).Annotate("turn-x", map[string]interface{}{"reply": "ok"}); err != nil {
		t.Fatalf("annotate via scan: %v", err)
	}
	if err := NewStore(dir).Annotate("missing", nil); err == nil {
		t.Fatalf("expected error for unknown turn")
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store = NewStore("")
	if s != nil {
		t.Fatalf("empty dir should disable the store")
	}
	if err := s.SaveTurn("c", testTurn("t", time.Now())); err != nil {
		t.Fatalf("nil store save: %v", err)
	}
}

func TestCleanRetentionAndMaxFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	now := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := s.SaveTurn("c", testTurn(id, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	// age the first pair past retention
	old := now.Add(-2 * time.Hour)
	first, _ := filepath.Glob(filepath.Join(dir, "*-a.*"))
	for _, p := range first {
		os.Chtimes(p, old, old)
	}

	removed := Clean(dir, now, time.Hour, 2)
	if removed != 2 {
		t.Fatalf("expected 2 pairs removed, got %d", removed)
	}
	left, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	wavs, _ := filepath.Glob(filepath.Join(dir, "*.wav"))
	if len(left) != 2 || len(wavs) != 2 {
		t.Fatalf("expected two pairs left, got %v %v", left, wavs)
	}
}

func TestWriteAtomicReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "turn.json")
	if err := writeAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writeAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("expected replaced content, got %q (%v)", got, err)
	}
	if fi, _ := os.Stat(path); fi.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", fi.Mode())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}

	// a directory in the way makes the rename fail
	blocked := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeAtomic(blocked, []byte("x"), 0o644); err == nil {
		t.Fatalf("rename over a non-empty directory should fail")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 2 {
		t.Fatalf("failed write left a temp file: %v", entries)
	}
}
