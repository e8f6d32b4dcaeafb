package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Run("MatchesSpecTable", func(t *testing.T) {
		d := Default()

		cases := map[string]int{
			"AllocPerChunk":       d.AllocPerChunk,
			"StackPerAlloc":       d.StackPerAlloc,
			"ChunkPerThread":      d.ChunkPerThread,
			"CacheSize":           d.CacheSize,
			"AllocDictionary":     d.AllocDictionary,
			"StackDictionary":     d.StackDictionary,
			"TreeDictionary":      d.TreeDictionary,
			"HistoryFrames":       d.HistoryFrames,
			"InternalFrameToSkip": d.InternalFrameToSkip,
		}
		want := map[string]int{
			"AllocPerChunk":       8192,
			"StackPerAlloc":       50,
			"ChunkPerThread":      8,
			"CacheSize":           16,
			"AllocDictionary":     16384,
			"StackDictionary":     16384,
			"TreeDictionary":      262144,
			"HistoryFrames":       120,
			"InternalFrameToSkip": 3,
		}

		for k, v := range want {
			if cases[k] != v {
				t.Errorf("%s: got %d, want %d", k, cases[k], v)
			}
		}
	})

	t.Run("ValidatesCleanly", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Fatalf("expected default config to validate, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("RejectsNonPositiveField", func(t *testing.T) {
		c := Default()
		c.CacheSize = 0

		if err := c.Validate(); err == nil {
			t.Fatal("expected validation error for zero CacheSize")
		}
	})

	t.Run("RejectsIncompatibleSchemaVersion", func(t *testing.T) {
		c := Default()
		c.SchemaVersion = "2.0.0"

		if err := c.Validate(); err == nil {
			t.Fatal("expected validation error for incompatible schema version")
		}
	})

	t.Run("RejectsMalformedSchemaVersion", func(t *testing.T) {
		c := Default()
		c.SchemaVersion = "not-a-version"

		if err := c.Validate(); err == nil {
			t.Fatal("expected validation error for malformed schema version")
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("MissingFileFallsBackToDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg != Default() {
			t.Errorf("expected defaults, got %+v", cfg)
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")

		cfg := Default()
		cfg.CacheSize = 32

		data, err := json.Marshal(cfg)
		if err != nil {
			t.Fatalf("unexpected marshal error: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected load error: %v", err)
		}
		if loaded.CacheSize != 32 {
			t.Errorf("expected CacheSize 32 from file, got %d", loaded.CacheSize)
		}
	})

	t.Run("EnvOverridesDefaults", func(t *testing.T) {
		t.Setenv("HEAPTRACE_CACHE_SIZE", "64")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.CacheSize != 64 {
			t.Errorf("expected env override to win, got %d", cfg.CacheSize)
		}
	})
}

func TestWatcher(t *testing.T) {
	t.Run("LoadsInitialConfig", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")

		initial := Default()
		data, _ := json.Marshal(initial)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}

		w, err := NewWatcher(path)
		if err != nil {
			t.Fatalf("unexpected error creating watcher: %v", err)
		}
		defer w.Close()

		if got := w.Current().CacheSize; got != initial.CacheSize {
			t.Fatalf("expected initial CacheSize %d, got %d", initial.CacheSize, got)
		}
	})
}
