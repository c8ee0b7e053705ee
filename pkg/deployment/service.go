// Package deployment implements C8.1, the Deployment Controller: it
// transitions a model version into a stage under a chosen strategy,
// monitors health, and rolls back on failure (spec.md §4.8.1). Grounded on
// pkg/k8s/client.go's Clientset/CreateWorkerJob/GetJobStatus lifecycle
// (submit a unit of work, poll its status, react to failure), generalized
// from a single Kubernetes Job submission to a multi-step deployment state
// machine that doesn't require an actual cluster.
package deployment

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/registry"
	"github.com/mlforge/core/pkg/storage"
)

// HealthProbe runs the configured health checks for one model version.
// pkg/monitor's Service (C8.2) is the production implementation, supplying a
// p95-latency check and a feedback-accuracy check; it has no resource or
// data-quality checks. The defaultProbe in this package checks availability
// only (see its doc comment), enough to exercise the state machine standalone.
type HealthProbe interface {
	Probe(modelID, version string) []models.HealthCheckResult
}

// RollbackTrigger is one configured automatic-rollback condition
// (spec.md §4.8.1 "Rollback triggers").
type RollbackTrigger struct {
	Metric   string
	Threshold float64
	Operator  string // "gt", "lt", "gte", "lte"
	Duration  time.Duration
}

// Config tunes deployment strategy behavior.
type Config struct {
	RollingBatchDivisor int           // batches of ceil(N/divisor), default 3
	RollingSlotCount    int           // simulated instance-slot count, default 6
	CanaryDuration      time.Duration // default 0 (tests); production callers set a real window
	CanaryMinRequests   int           // default 10; not read by runCanary
	CanaryMaxErrorRate  float64       // default 0.05; not read by runCanary
	CanaryMaxP95Ms      float64       // default 500; not read by runCanary
	BlueGreenWarmup     time.Duration
	BlueGreenSuccessMin float64 // health-check pass rate required to switch traffic, default 0.9
}

// DefaultConfig returns spec.md §6-style documented defaults.
func DefaultConfig() Config {
	return Config{
		RollingBatchDivisor: 3,
		RollingSlotCount:    6,
		CanaryDuration:      0,
		CanaryMinRequests:   10,
		CanaryMaxErrorRate:  0.05,
		CanaryMaxP95Ms:      500,
		BlueGreenWarmup:     0,
		BlueGreenSuccessMin: 0.9,
	}
}

// SlotManager materializes a rolling/canary/blue-green strategy's progress as
// real serving workloads, one call per instance slot reaching the target
// version. pkg/k8s's Client satisfies this by creating/updating a Kubernetes
// Job per slot. A nil SlotManager (the default) skips materialization
// entirely, which is how tests and non-cluster deployments drive the same
// state machine.
type SlotManager interface {
	UpdateSlot(modelID, version string, slot int) error
}

// Service is the Deployment Controller.
type Service struct {
	store    metadatastore.MetadataStore
	registry *registry.Service
	probe    HealthProbe
	slots    SlotManager
	cfg      Config

	mu      sync.Mutex
	active  map[string]*models.Deployment   // last deployment that reached "deployed", by modelID
	history map[string][]*models.Deployment // all deployments, oldest first
}

// NewService wires the controller to the metadata store (for rollback
// version lookups via the registry) and a pluggable health probe.
func NewService(store metadatastore.MetadataStore, reg *registry.Service, probe HealthProbe, cfg Config) *Service {
	if probe == nil {
		probe = &defaultProbe{store: store}
	}
	return &Service{
		store:    store,
		registry: reg,
		probe:    probe,
		cfg:      cfg,
		active:   make(map[string]*models.Deployment),
		history:  make(map[string][]*models.Deployment),
	}
}

// SetSlotManager wires a backend (pkg/k8s's Client in production) that
// materializes rolling-batch slot updates as real workloads. Optional: a
// nil manager leaves the state machine purely in-memory.
func (s *Service) SetSlotManager(m SlotManager) {
	s.slots = m
}

// Deploy runs the requested strategy end to end, synchronously (the teacher's
// CreateWorkerJob is fire-and-poll; here there is no external scheduler to
// poll, so Deploy drives the state machine itself and returns once it settles).
func (s *Service) Deploy(modelID string, req *models.DeployRequest) (*models.Deployment, error) {
	dep := &models.Deployment{
		ID:          uuid.New().String(),
		ModelID:     modelID,
		Version:     req.Version,
		TargetStage: req.Stage,
		Strategy:    req.Strategy,
		State:       models.DeploymentPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.record(dep)

	dep.State = models.DeploymentDeploying
	s.touch(dep)

	var err error
	switch req.Strategy {
	case models.StrategyRolling:
		err = s.runRolling(dep)
	case models.StrategyCanary:
		err = s.runCanary(dep, req)
	case models.StrategyBlueGreen:
		err = s.runBlueGreen(dep)
	default:
		err = s.runImmediate(dep)
	}

	if err != nil {
		dep.State = models.DeploymentFailed
		dep.Message = err.Error()
		s.touch(dep)
		if req.RollbackOnFail {
			if _, rerr := s.Rollback(modelID); rerr != nil {
				return dep, apierr.Wrap(apierr.KindConflict, "deployment failed and rollback also failed: "+rerr.Error(), err)
			}
		}
		return dep, err
	}

	dep.State = models.DeploymentDeployed
	dep.Progress = 100
	s.touch(dep)
	s.mu.Lock()
	s.active[modelID] = dep
	s.mu.Unlock()

	if s.registry != nil {
		_ = s.registry.Promote(modelID, req.Version, req.Stage)
	}
	return dep, nil
}

func (s *Service) runImmediate(dep *models.Deployment) error {
	dep.Progress = 50
	s.touch(dep)
	results := s.probe.Probe(dep.ModelID, dep.Version)
	dep.HealthChecks = results
	if overallHealth(results) == "unhealthy" {
		return apierr.Training(nil, "health checks failed for %s/%s", dep.ModelID, dep.Version)
	}
	dep.Progress = 100
	s.touch(dep)
	return nil
}

// runRolling updates RollingSlotCount instance slots in batches of
// ceil(N/divisor); a health-check failure in any batch fails the deployment.
func (s *Service) runRolling(dep *models.Deployment) error {
	n := s.cfg.RollingSlotCount
	if n <= 0 {
		n = 1
	}
	divisor := s.cfg.RollingBatchDivisor
	if divisor <= 0 {
		divisor = 3
	}
	batchSize := int(math.Ceil(float64(n) / float64(divisor)))
	if batchSize < 1 {
		batchSize = 1
	}

	updated := 0
	for updated < n {
		results := s.probe.Probe(dep.ModelID, dep.Version)
		if overallHealth(results) == "unhealthy" {
			dep.HealthChecks = results
			return apierr.Training(nil, "rolling batch health check failed for %s/%s", dep.ModelID, dep.Version)
		}
		next := updated + batchSize
		if next > n {
			next = n
		}
		if s.slots != nil {
			for slot := updated; slot < next; slot++ {
				if err := s.slots.UpdateSlot(dep.ModelID, dep.Version, slot); err != nil {
					return apierr.Wrap(apierr.KindTraining, "rolling slot update failed", err)
				}
			}
		}
		updated = next
		dep.Progress = int(float64(updated) / float64(n) * 100)
		dep.HealthChecks = results
		s.touch(dep)
	}
	return nil
}

// runCanary shifts traffic for CanaryDuration, then runs the health probe.
// Its only success criterion is overall probe health: an "unhealthy" result
// triggers rollback regardless of the request's RollbackOnFail flag. The
// request-count, error-rate and p95-latency settings in Config are not
// consulted.
func (s *Service) runCanary(dep *models.Deployment, req *models.DeployRequest) error {
	dep.Progress = 25
	s.touch(dep)
	if s.cfg.CanaryDuration > 0 {
		time.Sleep(s.cfg.CanaryDuration)
	}

	results := s.probe.Probe(dep.ModelID, dep.Version)
	dep.HealthChecks = results
	dep.Progress = 75
	s.touch(dep)

	if overallHealth(results) == "unhealthy" {
		if _, err := s.Rollback(dep.ModelID); err != nil {
			return apierr.Wrap(apierr.KindConflict, "canary criteria unmet and rollback failed: "+err.Error(), nil)
		}
		return apierr.Training(nil, "canary health criteria not met for %s/%s, rolled back", dep.ModelID, dep.Version)
	}
	return nil
}

// runBlueGreen warms up the new environment, then switches traffic only if
// the health-check pass rate meets BlueGreenSuccessMin.
func (s *Service) runBlueGreen(dep *models.Deployment) error {
	dep.Progress = 20
	s.touch(dep)
	if s.cfg.BlueGreenWarmup > 0 {
		time.Sleep(s.cfg.BlueGreenWarmup)
	}

	results := s.probe.Probe(dep.ModelID, dep.Version)
	dep.HealthChecks = results
	dep.Progress = 80
	s.touch(dep)

	passRate := passRate(results)
	min := s.cfg.BlueGreenSuccessMin
	if min <= 0 {
		min = 0.9
	}
	if passRate < min {
		return apierr.Training(nil, "blue/green warmup pass rate %.2f below threshold %.2f for %s/%s", passRate, min, dep.ModelID, dep.Version)
	}
	return nil
}

// Rollback models a rollback as a new immediate deployment targeting the
// previous non-current, most-recent production-eligible version
// (spec.md §9 Open Question (b): "previous in creation time").
func (s *Service) Rollback(modelID string) (*models.Deployment, error) {
	if s.registry == nil {
		return nil, apierr.Conflict("no registry wired, cannot resolve a rollback target for %s", modelID)
	}
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, apierr.NotFound("model %s not found", modelID)
	}
	versions, err := s.registry.ListVersions(modelID, nil)
	if err != nil {
		return nil, err
	}

	var target *models.VersionEntry
	for i := range versions {
		v := versions[i]
		if v.Version == model.CurrentVersion || v.Stage == models.StageArchived {
			continue
		}
		target = &v
		break
	}
	if target == nil {
		return nil, apierr.NotFound("no eligible rollback version for model %s", modelID)
	}

	req := &models.DeployRequest{
		Version:  target.Version,
		Stage:    target.Stage,
		Strategy: models.StrategyImmediate,
	}
	dep := &models.Deployment{
		ID:          uuid.New().String(),
		ModelID:     modelID,
		Version:     target.Version,
		TargetStage: target.Stage,
		Strategy:    models.StrategyImmediate,
		State:       models.DeploymentRollingBack,
		IsRollback:  true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.record(dep)

	if err := s.runImmediate(dep); err != nil {
		dep.State = models.DeploymentFailed
		dep.Message = err.Error()
		s.touch(dep)
		return dep, err
	}
	dep.State = models.DeploymentRolledBack
	dep.Progress = 100
	s.touch(dep)

	s.mu.Lock()
	s.active[modelID] = dep
	s.mu.Unlock()

	if s.registry != nil {
		_ = s.registry.Promote(modelID, target.Version, target.Stage)
	}
	_ = req
	return dep, nil
}

// GetActive returns the last deployment that transitioned to deployed (or
// rolled_back, which leaves a model equally "active" on its target version).
func (s *Service) GetActive(modelID string) (*models.Deployment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.active[modelID]
	return d, ok
}

// History returns all deployments recorded for a model, oldest first.
func (s *Service) History(modelID string) []*models.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Deployment(nil), s.history[modelID]...)
}

// ActiveModelIDs returns the IDs of every model with a currently active
// deployment, for a scheduler's periodic rollback-trigger evaluation to
// iterate without tracking deployed models separately.
func (s *Service) ActiveModelIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// EvaluateTriggers checks a snapshot of current metric values against the
// configured rollback triggers and reports whether any fired.
func EvaluateTriggers(triggers []RollbackTrigger, current map[string]float64) bool {
	for _, trig := range triggers {
		v, ok := current[trig.Metric]
		if !ok {
			continue
		}
		switch trig.Operator {
		case "gt":
			if v > trig.Threshold {
				return true
			}
		case "gte":
			if v >= trig.Threshold {
				return true
			}
		case "lt":
			if v < trig.Threshold {
				return true
			}
		case "lte":
			if v <= trig.Threshold {
				return true
			}
		}
	}
	return false
}

func (s *Service) record(dep *models.Deployment) {
	s.mu.Lock()
	s.history[dep.ModelID] = append(s.history[dep.ModelID], dep)
	s.mu.Unlock()
}

func (s *Service) touch(dep *models.Deployment) {
	dep.UpdatedAt = time.Now().UTC()
}

// overallHealth reduces a set of check results to unhealthy/degraded/healthy
// (spec.md §4.8.1 "Health checks").
func overallHealth(results []models.HealthCheckResult) string {
	degraded := false
	for _, r := range results {
		if r.Status == "fail" {
			return "unhealthy"
		}
		if r.Status == "warn" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

func passRate(results []models.HealthCheckResult) float64 {
	if len(results) == 0 {
		return 0
	}
	passed := 0
	for _, r := range results {
		if r.Status == "pass" {
			passed++
		}
	}
	return float64(passed) / float64(len(results))
}

// defaultProbe checks model availability. Its storage-fetch check runs only
// when storage is set, and NewService builds it with the store alone, so
// under NewService only availability is checked. pkg/monitor's Service,
// which also satisfies HealthProbe, supplies p95-latency and feedback-accuracy
// checks.
type defaultProbe struct {
	store   metadatastore.MetadataStore
	storage *storage.Service
}

func (p *defaultProbe) Probe(modelID, version string) []models.HealthCheckResult {
	start := time.Now()
	model, err := p.store.GetModel(modelID)
	status, msg := "pass", ""
	if err != nil || model.Status != models.ModelStatusReady {
		status, msg = "fail", "model not ready"
	}
	results := []models.HealthCheckResult{
		{Name: "availability", Status: status, Message: msg, Duration: time.Since(start)},
	}

	if p.storage != nil {
		start = time.Now()
		if _, err := p.storage.FetchVersion(modelID, version); err != nil {
			results = append(results, models.HealthCheckResult{Name: "storage", Status: "fail", Message: err.Error(), Duration: time.Since(start)})
		} else {
			results = append(results, models.HealthCheckResult{Name: "storage", Status: "pass", Duration: time.Since(start)})
		}
	}
	return results
}
