// Package modelpool implements C4, the Model Pool: an in-memory pool of
// loaded model artifacts bounded by size and idle time, backed by a
// second-level on-disk cache of fetched version directories (spec.md §4.4).
// The single-flight "await the in-flight load" idiom is grounded on the
// deleted-but-read utils/job_queue.go promise/channel pattern; the
// sync.Mutex-guarded map-as-store idiom is grounded on pkg/queue/queue.go.
package modelpool

import (
	"sync"
	"time"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/training"
)

// Key identifies one pooled artifact.
type Key struct {
	ModelID string
	Version string
}

// Entry is one loaded artifact with the bookkeeping spec.md §4.4 names.
type Entry struct {
	Artifact   *training.Artifact
	LastUsed   time.Time
	UsageCount int64
	InUse      bool
}

// Loader produces a fresh artifact for a key on a pool miss (C5/C6 supply
// this, typically "fetch via C3 then deserialize weights.json").
type Loader func() (*training.Artifact, error)

// Config tunes pool bounds, sourced from AI_MODEL_POOL_* (spec.md §6).
type Config struct {
	MaxPoolSize int           // per-key cap, default 3
	MinPoolSize int           // sweeper floor, default 1
	MaxIdleTime time.Duration // default 10m
}

func DefaultConfig() Config {
	return Config{MaxPoolSize: 3, MinPoolSize: 1, MaxIdleTime: 10 * time.Minute}
}

type loadPromise struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Pool is the in-memory layer of C4.
type Pool struct {
	mu      sync.Mutex
	entries map[Key][]*Entry
	loading map[Key]*loadPromise
	cfg     Config
}

func New(cfg Config) *Pool {
	return &Pool{
		entries: make(map[Key][]*Entry),
		loading: make(map[Key]*loadPromise),
		cfg:     cfg,
	}
}

// Acquire returns an idle entry if one exists; otherwise, if a load for this
// key is already in flight, it awaits that single promise so concurrent
// first-time requesters all observe the same resulting entry (spec.md §4.4
// "Contract"); otherwise it runs loader itself.
func (p *Pool) Acquire(key Key, loader Loader) (*Entry, error) {
	p.mu.Lock()
	for _, e := range p.entries[key] {
		if !e.InUse {
			e.InUse = true
			e.UsageCount++
			e.LastUsed = time.Now()
			p.mu.Unlock()
			return e, nil
		}
	}

	if promise, ok := p.loading[key]; ok {
		p.mu.Unlock()
		<-promise.done
		if promise.err != nil {
			return nil, promise.err
		}
		p.mu.Lock()
		promise.entry.InUse = true
		promise.entry.UsageCount++
		promise.entry.LastUsed = time.Now()
		p.mu.Unlock()
		return promise.entry, nil
	}

	promise := &loadPromise{done: make(chan struct{})}
	p.loading[key] = promise
	p.mu.Unlock()

	artifact, err := loader()

	p.mu.Lock()
	delete(p.loading, key)
	if err != nil {
		promise.err = apierr.Wrap(apierr.KindStorage, "failed to load model artifact", err)
		close(promise.done)
		p.mu.Unlock()
		return nil, promise.err
	}

	entry := &Entry{Artifact: artifact, LastUsed: time.Now(), UsageCount: 1, InUse: true}
	p.entries[key] = append(p.entries[key], entry)
	p.evictOverflowLocked(key)
	promise.entry = entry
	close(promise.done)
	p.mu.Unlock()

	return entry, nil
}

// Release marks an entry idle and refreshes its last-used timestamp.
func (p *Pool) Release(key Key, entry *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry.InUse = false
	entry.LastUsed = time.Now()
}

// evictOverflowLocked drops the oldest idle entry for key if the pool
// exceeds maxPoolSize. Caller holds p.mu.
func (p *Pool) evictOverflowLocked(key Key) {
	entries := p.entries[key]
	if p.cfg.MaxPoolSize <= 0 || len(entries) <= p.cfg.MaxPoolSize {
		return
	}
	oldest := -1
	for i, e := range entries {
		if e.InUse {
			continue
		}
		if oldest == -1 || e.LastUsed.Before(entries[oldest].LastUsed) {
			oldest = i
		}
	}
	if oldest >= 0 {
		p.entries[key] = append(entries[:oldest], entries[oldest+1:]...)
	}
}

// Sweep disposes entries idle longer than MaxIdleTime, per key, never
// shrinking below MinPoolSize and never evicting an in-use entry
// (spec.md §4.4 "Cleanup"). Intended to be called periodically (default
// 60s) by pkg/scheduler.
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for key, entries := range p.entries {
		kept := make([]*Entry, 0, len(entries))
		survivorCount := len(entries)
		for _, e := range entries {
			if !e.InUse && now.Sub(e.LastUsed) > p.cfg.MaxIdleTime && survivorCount > p.cfg.MinPoolSize {
				survivorCount--
				continue
			}
			kept = append(kept, e)
		}
		p.entries[key] = kept
	}
}

// Stats reports the current pool size for a key, for /ai/health and /stats.
func (p *Pool) Stats(key Key) (size int, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.entries[key]
	size = len(entries)
	for _, e := range entries {
		if e.InUse {
			inUse++
		}
	}
	return
}

// Invalidate drops every cached entry for a key (C2/C6 call this after
// publishing a new version so stale weights are never served).
func (p *Pool) Invalidate(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}
