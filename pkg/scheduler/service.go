// Package scheduler adapts the teacher's cron.Cron wrapper into the
// platform's three periodic jobs (spec.md §4.4 pool eviction, §4.6 buffer
// flush, §4.8.1 rollback triggers): sweeping the in-memory model pool for
// idle/expired entries, force-flushing any incremental-learning buffer that
// has sat unflushed past a time bound, and evaluating configured rollback
// triggers against live health metrics for every actively deployed model.
package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/mlforge/core/pkg/deployment"
	"github.com/mlforge/core/pkg/incremental"
	"github.com/mlforge/core/pkg/modelpool"
	"github.com/mlforge/core/pkg/monitor"
)

// Config tunes how often each periodic job runs, as standard cron
// expressions (the teacher's own jobs.Schedule format).
type Config struct {
	PoolSweepSchedule       string // default every minute
	IncrementalFlushSchedule string // default every 5 minutes
	RollbackEvalSchedule    string // default every 30 seconds
	RollbackTriggers        []deployment.RollbackTrigger
}

func DefaultConfig() Config {
	return Config{
		PoolSweepSchedule:        "@every 1m",
		IncrementalFlushSchedule: "@every 5m",
		RollbackEvalSchedule:     "@every 30s",
		RollbackTriggers: []deployment.RollbackTrigger{
			{Metric: "error_rate", Threshold: 0.1, Operator: "gt"},
			{Metric: "p95_latency_ms", Threshold: 2000, Operator: "gt"},
		},
	}
}

// Service runs the platform's background maintenance jobs on a single
// cron.Cron instance, exactly as the teacher's scheduler.Service did for its
// own pipeline jobs.
type Service struct {
	pool        *modelpool.Pool
	incremental *incremental.Service
	deployment  *deployment.Service
	monitor     *monitor.Service
	cfg         Config
	cron        *cron.Cron
}

// NewService wires the scheduler to the services whose background
// maintenance it drives.
func NewService(pool *modelpool.Pool, incSvc *incremental.Service, depSvc *deployment.Service, monSvc *monitor.Service, cfg Config) *Service {
	return &Service{
		pool:        pool,
		incremental: incSvc,
		deployment:  depSvc,
		monitor:     monSvc,
		cfg:         cfg,
		cron:        cron.New(),
	}
}

// Start registers and starts every periodic job.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.PoolSweepSchedule, s.sweepPool); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.IncrementalFlushSchedule, s.flushIncremental); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.RollbackEvalSchedule, s.evaluateRollbackTriggers); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight job to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) sweepPool() {
	if s.pool == nil {
		return
	}
	s.pool.Sweep()
}

func (s *Service) flushIncremental() {
	if s.incremental == nil {
		return
	}
	for _, modelID := range s.incremental.TrackedModels() {
		if err := s.incremental.ForceUpdate(modelID); err != nil {
			log.Printf("[scheduler] incremental flush failed for model=%s: %v", modelID, err)
		}
	}
}

func (s *Service) evaluateRollbackTriggers() {
	if s.deployment == nil || s.monitor == nil {
		return
	}
	for _, modelID := range s.deployment.ActiveModelIDs() {
		report, err := s.monitor.Health(modelID)
		if err != nil {
			continue
		}
		metrics := map[string]float64{
			"p50_latency_ms": report.P50LatencyMS,
			"p95_latency_ms": report.P95LatencyMS,
			"p99_latency_ms": report.P99LatencyMS,
			"throughput_rps": report.ThroughputRPS,
			"accuracy":       report.Accuracy,
		}
		if !deployment.EvaluateTriggers(s.cfg.RollbackTriggers, metrics) {
			continue
		}
		log.Printf("[scheduler] rollback trigger fired for model=%s, rolling back", modelID)
		if _, err := s.deployment.Rollback(modelID); err != nil {
			log.Printf("[scheduler] automatic rollback failed for model=%s: %v", modelID, err)
		}
	}
}
