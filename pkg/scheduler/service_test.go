package scheduler

import (
	"testing"
	"time"

	"github.com/mlforge/core/pkg/modelpool"
)

func TestSweepPoolRunsAgainstRealPool(t *testing.T) {
	pool := modelpool.New(modelpool.DefaultConfig())
	svc := NewService(pool, nil, nil, nil, DefaultConfig())

	// sweepPool must tolerate an empty pool without panicking.
	svc.sweepPool()
}

func TestFlushIncrementalToleratesNilService(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, DefaultConfig())
	svc.flushIncremental()
}

func TestEvaluateRollbackTriggersToleratesNilServices(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, DefaultConfig())
	svc.evaluateRollbackTriggers()
}

func TestStartRegistersAllJobsAndStopReturns(t *testing.T) {
	pool := modelpool.New(modelpool.DefaultConfig())
	cfg := DefaultConfig()
	cfg.PoolSweepSchedule = "@every 1h"
	cfg.IncrementalFlushSchedule = "@every 1h"
	cfg.RollbackEvalSchedule = "@every 1h"

	svc := NewService(pool, nil, nil, nil, cfg)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(svc.cron.Entries()) != 3 {
		t.Errorf("expected 3 scheduled jobs, got %d", len(svc.cron.Entries()))
	}

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
