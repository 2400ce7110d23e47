package cacheopts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "backend_path: /tmp/cache.db\nttl_min: 10\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TTLMin != 10 {
		t.Fatalf("got ttl_min %d, want 10", cfg.TTLMin)
	}
	if cfg.TTLMax != Defaults().TTLMax {
		t.Fatalf("got ttl_max %d, want default %d", cfg.TTLMax, Defaults().TTLMax)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "backend_path: /tmp/cache.db\nnot_a_real_field: 1\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unrecognized config field")
	}
}

type fakeClamps struct {
	min, max, bogus uint32
}

func (f *fakeClamps) SetTTLClamps(min, max uint32) { f.min, f.max = min, max }
func (f *fakeClamps) SetBogusTTL(ttl uint32)       { f.bogus = ttl }

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "backend_path: /tmp/cache.db\nttl_min: 5\nttl_max: 100\n")

	target := &fakeClamps{}
	w, err := Watch(path, target, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("backend_path: /tmp/cache.db\nttl_min: 7\nttl_max: 200\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if target.min == 7 && target.max == 200 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("clamps not reloaded in time, got min=%d max=%d", target.min, target.max)
}
