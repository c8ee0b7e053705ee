package modelpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/training"
)

func TestAcquireLoadsOnMiss(t *testing.T) {
	p := New(DefaultConfig())
	key := Key{ModelID: "m1", Version: "1.0.0"}
	calls := 0

	entry, err := p.Acquire(key, func() (*training.Artifact, error) {
		calls++
		return &training.Artifact{}, nil
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !entry.InUse {
		t.Error("expected entry to be marked in use")
	}
	if calls != 1 {
		t.Errorf("expected loader called once, got %d", calls)
	}
}

func TestAcquireReusesReleasedEntry(t *testing.T) {
	p := New(DefaultConfig())
	key := Key{ModelID: "m1", Version: "1.0.0"}

	entry1, _ := p.Acquire(key, func() (*training.Artifact, error) { return &training.Artifact{}, nil })
	p.Release(key, entry1)

	calls := 0
	entry2, err := p.Acquire(key, func() (*training.Artifact, error) {
		calls++
		return &training.Artifact{}, nil
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if entry1 != entry2 {
		t.Error("expected the released entry to be reused")
	}
	if calls != 0 {
		t.Errorf("expected no new load, got %d calls", calls)
	}
}

func TestAcquireSingleFlight(t *testing.T) {
	p := New(DefaultConfig())
	key := Key{ModelID: "m1", Version: "1.0.0"}

	release := make(chan struct{})
	var loadCount int
	var mu sync.Mutex

	loader := func() (*training.Artifact, error) {
		mu.Lock()
		loadCount++
		mu.Unlock()
		<-release
		return &training.Artifact{}, nil
	}

	var wg sync.WaitGroup
	results := make([]*Entry, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			e, err := p.Acquire(key, loader)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			results[idx] = e
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if loadCount != 1 {
		t.Errorf("expected exactly one loader invocation, got %d", loadCount)
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Error("expected all concurrent acquires to observe the same entry")
		}
	}
}

func TestAcquirePropagatesLoaderError(t *testing.T) {
	p := New(DefaultConfig())
	key := Key{ModelID: "m1", Version: "1.0.0"}

	_, err := p.Acquire(key, func() (*training.Artifact, error) {
		return nil, errors.New("disk full")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestSweepNeverDropsBelowMinPoolSize(t *testing.T) {
	p := New(Config{MaxPoolSize: 5, MinPoolSize: 2, MaxIdleTime: time.Millisecond})
	key := Key{ModelID: "m1", Version: "1.0.0"}

	loader := func() (*training.Artifact, error) { return &training.Artifact{}, nil }
	e1, _ := p.Acquire(key, loader)
	e2, _ := p.Acquire(key, loader)
	e3, _ := p.Acquire(key, loader)
	p.Release(key, e1)
	p.Release(key, e2)
	p.Release(key, e3)

	time.Sleep(5 * time.Millisecond)
	p.Sweep()

	size, _ := p.Stats(key)
	if size < 2 {
		t.Errorf("expected at least MinPoolSize=2 entries to survive, got %d", size)
	}
}

func TestSweepNeverEvictsInUseEntry(t *testing.T) {
	p := New(Config{MaxPoolSize: 5, MinPoolSize: 0, MaxIdleTime: time.Millisecond})
	key := Key{ModelID: "m1", Version: "1.0.0"}

	entry, _ := p.Acquire(key, func() (*training.Artifact, error) { return &training.Artifact{}, nil })
	time.Sleep(5 * time.Millisecond)
	p.Sweep()

	size, inUse := p.Stats(key)
	if size != 1 || inUse != 1 {
		t.Errorf("expected the in-use entry to survive sweep, got size=%d inUse=%d", size, inUse)
	}
	p.Release(key, entry)
}
