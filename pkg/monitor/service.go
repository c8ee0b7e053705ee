// Package monitor implements C8.2, the Drift & Health Monitor: per-feature
// data-drift scoring between a reference and current window of predictions,
// and health reporting (latency percentiles, throughput, concurrency,
// feedback-derived accuracy) (spec.md §4.8.2). Grounded on the
// deleted-but-read pipelines/ML/monitoring_rules.go's RuleEngine/Alert
// shape, reimplemented against model-prediction history pulled from
// metadatastore.MetadataStore rather than a generic PersistenceBackend.
package monitor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/models"
)

// AlertSink dispatches a drift alert to a configured channel. logSink is the
// default; production deployments would wire a Slack/webhook/email sink
// satisfying the same interface.
type AlertSink interface {
	Send(alert Alert) error
}

// Alert is raised when a model's overall drift score exceeds the threshold.
type Alert struct {
	ModelID    string
	Score      float64
	Threshold  float64
	Affected   []string
	OccurredAt time.Time
}

type logSink struct{}

func (logSink) Send(a Alert) error {
	log.Printf("drift alert: model=%s score=%.4f threshold=%.4f affected=%v", a.ModelID, a.Score, a.Threshold, a.Affected)
	return nil
}

// Config tunes drift and health thresholds.
type Config struct {
	DriftMethod        DriftMethod
	DriftThreshold      float64 // default 0.1
	RecentPredictionCap int     // how many recent predictions to pull per call, default 500
}

func DefaultConfig() Config {
	return Config{DriftMethod: MethodPSI, DriftThreshold: 0.1, RecentPredictionCap: 500}
}

// Service is the Drift & Health Monitor.
type Service struct {
	store metadatastore.MetadataStore
	sink  AlertSink
	cfg   Config

	mu        sync.Mutex
	alertLog  []Alert
}

func NewService(store metadatastore.MetadataStore, sink AlertSink, cfg Config) *Service {
	if sink == nil {
		sink = logSink{}
	}
	return &Service{store: store, sink: sink, cfg: cfg}
}

// DetectDrift compares a reference window of feature values against a
// current window and scores each feature with the configured method; the
// overall score is the per-feature maximum (spec.md §4.8.2).
func (s *Service) DetectDrift(modelID string, reference, current map[string][]float64) (*models.DriftReport, error) {
	report := &models.DriftReport{
		ModelID:    modelID,
		PerFeature: make(map[string]float64),
		ComputedAt: time.Now().UTC(),
	}

	for feature, refValues := range reference {
		curValues, ok := current[feature]
		if !ok || len(curValues) == 0 {
			continue
		}
		score := numericDrift(s.cfg.DriftMethod, refValues, curValues)
		report.PerFeature[feature] = score
		if score > report.OverallScore {
			report.OverallScore = score
		}
		if score > s.cfg.DriftThreshold {
			report.AffectedFeatures = append(report.AffectedFeatures, feature)
		}
	}

	if report.OverallScore > s.cfg.DriftThreshold {
		alert := Alert{ModelID: modelID, Score: report.OverallScore, Threshold: s.cfg.DriftThreshold, Affected: report.AffectedFeatures, OccurredAt: report.ComputedAt}
		s.mu.Lock()
		s.alertLog = append(s.alertLog, alert)
		s.mu.Unlock()
		if err := s.sink.Send(alert); err != nil {
			return report, apierr.Wrap(apierr.KindStorage, "failed to dispatch drift alert: "+err.Error(), err)
		}
	}
	return report, nil
}

// DetectCategoricalDrift runs chi-square over categorical value-count
// tables, reported under the same per-feature/overall-score shape.
func (s *Service) DetectCategoricalDrift(modelID string, reference, current map[string]map[string]int) *models.DriftReport {
	report := &models.DriftReport{
		ModelID:    modelID,
		PerFeature: make(map[string]float64),
		ComputedAt: time.Now().UTC(),
	}
	for feature, refCounts := range reference {
		curCounts, ok := current[feature]
		if !ok {
			continue
		}
		score := chiSquare(refCounts, curCounts)
		report.PerFeature[feature] = score
		if score > report.OverallScore {
			report.OverallScore = score
		}
		if score > s.cfg.DriftThreshold {
			report.AffectedFeatures = append(report.AffectedFeatures, feature)
		}
	}
	return report
}

// Health builds a HealthReport from a model's recent prediction history.
func (s *Service) Health(modelID string) (*models.HealthReport, error) {
	records, err := s.store.ListPredictionsByModel(modelID, s.cfg.RecentPredictionCap)
	if err != nil {
		return nil, apierr.Storage(err, "failed to list predictions for %s", modelID)
	}

	samples := make([]latencySample, 0, len(records))
	correct, feedbackCount := 0, 0
	now := time.Now().UTC()
	for _, r := range records {
		samples = append(samples, latencySample{start: r.Timestamp, duration: time.Duration(r.ProcessingMS * float64(time.Millisecond))})
		if r.Feedback != nil {
			feedbackCount++
			if r.Feedback.IsCorrect {
				correct++
			}
		}
	}

	p50, p95, p99, mean, max, throughput, concurrency, accuracy := computeHealth(samples, correct, feedbackCount, now)
	return &models.HealthReport{
		ModelID:       modelID,
		P50LatencyMS:  p50,
		P95LatencyMS:  p95,
		P99LatencyMS:  p99,
		MeanLatencyMS: mean,
		MaxLatencyMS:  max,
		ThroughputRPS: throughput,
		Concurrency:   concurrency,
		Accuracy:      accuracy,
		ComputedAt:    now,
	}, nil
}

// Probe implements deployment.HealthProbe, supplying the richer check list
// spec.md §4.8.1 names beyond the deployment package's own
// availability/storage defaults: latency percentiles against thresholds and
// error rate from feedback.
func (s *Service) Probe(modelID, _ string) []models.HealthCheckResult {
	start := time.Now()
	health, err := s.Health(modelID)
	if err != nil {
		return []models.HealthCheckResult{{Name: "health_lookup", Status: "fail", Message: err.Error(), Duration: time.Since(start)}}
	}

	results := []models.HealthCheckResult{
		latencyCheck(health.P95LatencyMS, 500, time.Since(start)),
	}
	if health.Accuracy > 0 {
		status := "pass"
		msg := ""
		if health.Accuracy < 0.5 {
			status, msg = "fail", fmt.Sprintf("accuracy %.2f below 0.5", health.Accuracy)
		} else if health.Accuracy < 0.7 {
			status, msg = "warn", fmt.Sprintf("accuracy %.2f below 0.7", health.Accuracy)
		}
		results = append(results, models.HealthCheckResult{Name: "accuracy", Status: status, Message: msg})
	}
	return results
}

func latencyCheck(p95 float64, thresholdMs float64, duration time.Duration) models.HealthCheckResult {
	status := "pass"
	msg := ""
	if p95 > thresholdMs*2 {
		status, msg = "fail", fmt.Sprintf("p95 %.1fms exceeds %0.fms", p95, thresholdMs*2)
	} else if p95 > thresholdMs {
		status, msg = "warn", fmt.Sprintf("p95 %.1fms exceeds %0.fms", p95, thresholdMs)
	}
	return models.HealthCheckResult{Name: "latency_p95", Status: status, Message: msg, Duration: duration}
}

// RecentAlerts returns alerts raised this process's lifetime, most recent
// last.
func (s *Service) RecentAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alertLog...)
}
