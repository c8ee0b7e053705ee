package config

import (
	"os"
	"testing"
)

// TestLoadConfig tests configuration loading
func TestLoadConfig(t *testing.T) {
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("PORT", "9090")
	os.Setenv("AI_QUEUE_MIN_WORKERS", "2")
	os.Setenv("AI_QUEUE_MAX_WORKERS", "100")
	os.Setenv("AI_QUEUE_THRESHOLD", "10")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")

	defer func() {
		os.Unsetenv("ENVIRONMENT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("PORT")
		os.Unsetenv("AI_QUEUE_MIN_WORKERS")
		os.Unsetenv("AI_QUEUE_MAX_WORKERS")
		os.Unsetenv("AI_QUEUE_THRESHOLD")
		os.Unsetenv("REDIS_URL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Environment != "test" {
		t.Errorf("Expected environment 'test', got '%s'", cfg.Environment)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port '9090', got '%s'", cfg.Port)
	}
	if cfg.MinWorkers != 2 {
		t.Errorf("Expected MinWorkers 2, got %d", cfg.MinWorkers)
	}
	if cfg.MaxWorkers != 100 {
		t.Errorf("Expected MaxWorkers 100, got %d", cfg.MaxWorkers)
	}
	if cfg.QueueThreshold != 10 {
		t.Errorf("Expected QueueThreshold 10, got %d", cfg.QueueThreshold)
	}
}

// TestLoadConfigDefaults tests default values, including a sample of the
// AI_* training/prediction/deployment options spec.md §6 documents.
func TestLoadConfigDefaults(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	defer os.Unsetenv("REDIS_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Expected default environment 'development', got '%s'", cfg.Environment)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port '8080', got '%s'", cfg.Port)
	}
	if cfg.MinWorkers != 1 {
		t.Errorf("Expected default MinWorkers 1, got %d", cfg.MinWorkers)
	}
	if cfg.MaxWorkers != 50 {
		t.Errorf("Expected default MaxWorkers 50, got %d", cfg.MaxWorkers)
	}
	if cfg.TrainEpochs != 10 {
		t.Errorf("Expected default AI_TRAIN_EPOCHS 10, got %d", cfg.TrainEpochs)
	}
	if cfg.MaxPredictionBatch != 256 {
		t.Errorf("Expected default AI_MAX_PREDICTION_BATCH 256, got %d", cfg.MaxPredictionBatch)
	}
	if cfg.DefaultDeploymentStrategy != "immediate" {
		t.Errorf("Expected default AI_DEFAULT_DEPLOYMENT_STRATEGY 'immediate', got %q", cfg.DefaultDeploymentStrategy)
	}
	if !cfg.RollbackEnabled {
		t.Error("Expected AI_ROLLBACK_ENABLED to default true")
	}
	if cfg.ModelStorage != "local" {
		t.Errorf("Expected default MODEL_STORAGE 'local', got %q", cfg.ModelStorage)
	}
}

func TestLoadConfigRequiresRedisURL(t *testing.T) {
	os.Unsetenv("REDIS_URL")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected LoadConfig to fail without REDIS_URL")
	}
}
