package modelpool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DiskCacheConfig tunes the second-level on-disk cache of fetched version
// directories (spec.md §4.4 "Disk layer"), sourced from AI_MODEL_POOL_*.
type DiskCacheConfig struct {
	TTL       time.Duration // default 7 days
	MaxBytes  int64         // default 2 GiB
	IndexPath string        // where the metadata index is persisted
}

func DefaultDiskCacheConfig(indexPath string) DiskCacheConfig {
	return DiskCacheConfig{
		TTL:       7 * 24 * time.Hour,
		MaxBytes:  2 << 30,
		IndexPath: indexPath,
	}
}

// record is the small metadata kept per cached key.
type record struct {
	ModelID     string    `json:"model_id"`
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	ByteSize    int64     `json:"byte_size"`
	AccessCount int64     `json:"access_count"`
	Path        string    `json:"path"`
}

// DiskCache tracks and bounds the total size of locally-cached version
// directories fetched via C3, independent of what's currently pooled
// in-memory (C4 "Disk layer").
type DiskCache struct {
	mu      sync.Mutex
	cfg     DiskCacheConfig
	records map[string]*record
}

func NewDiskCache(cfg DiskCacheConfig) *DiskCache {
	c := &DiskCache{cfg: cfg, records: make(map[string]*record)}
	c.load()
	return c
}

func key(modelID, version string) string { return modelID + "/" + version }

func (c *DiskCache) load() {
	data, err := os.ReadFile(c.cfg.IndexPath)
	if err != nil {
		return
	}
	var recs []*record
	if json.Unmarshal(data, &recs) != nil {
		return
	}
	for _, r := range recs {
		c.records[key(r.ModelID, r.Version)] = r
	}
}

func (c *DiskCache) persistLocked() error {
	recs := make([]*record, 0, len(c.records))
	for _, r := range c.records {
		recs = append(recs, r)
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.IndexPath), 0o755); err != nil {
		return err
	}
	tmp := c.cfg.IndexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.cfg.IndexPath)
}

// Lookup returns the record for (modelID, version) if present and not past
// TTL, and bumps its access count.
func (c *DiskCache) Lookup(modelID, version string) (path string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, found := c.records[key(modelID, version)]
	if !found {
		return "", false
	}
	if time.Since(r.LastUpdated) > c.cfg.TTL {
		delete(c.records, key(modelID, version))
		_ = os.RemoveAll(r.Path)
		_ = c.persistLocked()
		return "", false
	}
	r.AccessCount++
	_ = c.persistLocked()
	return r.Path, true
}

// Touch records a freshly-fetched version directory, then enforces the
// byte-size cap by evicting least-recently-used + least-accessed entries.
func (c *DiskCache) Touch(modelID, version, path string) error {
	size, err := dirSize(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[key(modelID, version)] = &record{
		ModelID: modelID, Version: version,
		LastUpdated: time.Now(), ByteSize: size, AccessCount: 1, Path: path,
	}
	c.evictOverCapLocked()
	return c.persistLocked()
}

func (c *DiskCache) evictOverCapLocked() {
	if c.cfg.MaxBytes <= 0 {
		return
	}
	var total int64
	for _, r := range c.records {
		total += r.ByteSize
	}
	if total <= c.cfg.MaxBytes {
		return
	}

	ordered := make([]*record, 0, len(c.records))
	for _, r := range c.records {
		ordered = append(ordered, r)
	}
	// Evict least-recently-used first, breaking ties by lowest access count.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].LastUpdated.Equal(ordered[j].LastUpdated) {
			return ordered[i].AccessCount < ordered[j].AccessCount
		}
		return ordered[i].LastUpdated.Before(ordered[j].LastUpdated)
	})

	for _, r := range ordered {
		if total <= c.cfg.MaxBytes {
			break
		}
		delete(c.records, key(r.ModelID, r.Version))
		_ = os.RemoveAll(r.Path)
		total -= r.ByteSize
	}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
