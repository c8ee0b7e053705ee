package modelpool

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskCacheTouchAndLookup(t *testing.T) {
	tmp := t.TempDir()
	versionDir := filepath.Join(tmp, "versions", "m1", "1.0.0")
	writeFile(t, filepath.Join(versionDir, "weights.json"), 100)

	cache := NewDiskCache(DefaultDiskCacheConfig(filepath.Join(tmp, "index.json")))
	if err := cache.Touch("m1", "1.0.0", versionDir); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	path, ok := cache.Lookup("m1", "1.0.0")
	if !ok || path != versionDir {
		t.Fatalf("expected lookup hit at %s, got %s ok=%v", versionDir, path, ok)
	}
}

func TestDiskCacheEvictsOverCap(t *testing.T) {
	tmp := t.TempDir()
	cfg := DefaultDiskCacheConfig(filepath.Join(tmp, "index.json"))
	cfg.MaxBytes = 150
	cache := NewDiskCache(cfg)

	dirA := filepath.Join(tmp, "versions", "m1", "1.0.0")
	writeFile(t, filepath.Join(dirA, "weights.json"), 100)
	if err := cache.Touch("m1", "1.0.0", dirA); err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)

	dirB := filepath.Join(tmp, "versions", "m1", "1.1.0")
	writeFile(t, filepath.Join(dirB, "weights.json"), 100)
	if err := cache.Touch("m1", "1.1.0", dirB); err != nil {
		t.Fatal(err)
	}

	if _, ok := cache.Lookup("m1", "1.0.0"); ok {
		t.Error("expected older entry to be evicted once over the byte cap")
	}
	if _, ok := cache.Lookup("m1", "1.1.0"); !ok {
		t.Error("expected newer entry to survive")
	}
}

func TestDiskCacheExpiresPastTTL(t *testing.T) {
	tmp := t.TempDir()
	cfg := DefaultDiskCacheConfig(filepath.Join(tmp, "index.json"))
	cfg.TTL = time.Millisecond
	cache := NewDiskCache(cfg)

	dir := filepath.Join(tmp, "versions", "m1", "1.0.0")
	writeFile(t, filepath.Join(dir, "weights.json"), 10)
	if err := cache.Touch("m1", "1.0.0", dir); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.Lookup("m1", "1.0.0"); ok {
		t.Error("expected entry to expire past TTL")
	}
}
