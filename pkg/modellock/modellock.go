// Package modellock provides the per-model advisory lock shared by C2
// (full retrain) and C6 (incremental update), so the two writers of a
// model's version directory can never race (spec.md §4.2 "Lock discipline",
// §4.6 "Update"). Originally lived inside pkg/orchestrator; promoted to its
// own package once C6 needed the identical discipline. Grounded on the
// teacher's per-store sync.RWMutex idiom (pkg/storage/filestore.go),
// generalized to a registry keyed by model ID instead of one mutex per store.
package modellock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mlforge/core/pkg/apierr"
)

// Registry hands out per-model advisory locks: an on-disk lock file
// (created with exclusive-create semantics) guards against a second process
// racing the same model, and an in-process mutex serializes goroutines
// within this process.
type Registry struct {
	mu      sync.Mutex
	inProc  map[string]*sync.Mutex
	lockDir string
}

func NewRegistry(lockDir string) *Registry {
	_ = os.MkdirAll(lockDir, 0o755)
	return &Registry{inProc: make(map[string]*sync.Mutex), lockDir: lockDir}
}

func (r *Registry) mutexFor(modelID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.inProc[modelID]
	if !ok {
		m = &sync.Mutex{}
		r.inProc[modelID] = m
	}
	return m
}

// Release is returned by Acquire; call it to unlock both layers.
type Release func()

// Acquire blocks on the in-process mutex, then attempts the on-disk
// exclusive-create lock file, retrying with exponential backoff until
// timeout. Returns TrainingBusy if the disk lock cannot be obtained in time.
func (r *Registry) Acquire(modelID string, timeout time.Duration) (Release, error) {
	mu := r.mutexFor(modelID)
	mu.Lock()

	path := filepath.Join(r.lockDir, modelID+".lock")
	deadline := time.Now().Add(timeout)
	backoff := 25 * time.Millisecond

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() {
				_ = os.Remove(path)
				mu.Unlock()
			}, nil
		}
		if !os.IsExist(err) {
			mu.Unlock()
			return nil, apierr.Storage(err, "failed to create lock file for model %s", modelID)
		}
		if time.Now().After(deadline) {
			mu.Unlock()
			return nil, apierr.Conflict("TrainingBusy: model %s is locked by another training run", modelID)
		}
		time.Sleep(backoff)
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}
