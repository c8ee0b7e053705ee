package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every AI_* option spec.md §6 documents, plus the ambient
// service-level settings (port, backend selectors, credentials) the teacher's
// own Config carried. Each option has a documented default, applied in
// LoadConfig so the zero value of an unset variable never reaches a service.
type Config struct {
	Environment string
	LogLevel    string
	Port        string

	// Backend selectors (spec.md: "Storage backends are selected via
	// environment configuration").
	ModelStorage     string // MODEL_STORAGE: local | s3-like | gcs-like
	MetadataDriver   string // AI_METADATA_DRIVER: sqlite | mysql
	DatabaseURL      string
	RedisURL         string
	StorageRoot      string // local backend root path
	StorageBucket    string // object-store bucket
	StoragePrefix    string // object-store key prefix
	StorageAccessKey string
	StorageSecretKey string
	StorageEndpoint  string // non-empty selects a GCS-like S3-interop endpoint

	// C2 training
	TrainEpochs        int
	BatchSize          int
	LearningRate       float64
	TrainLimit         int
	TrainSeed          int64
	ValidationSplit    float64
	HiddenUnits        int
	DropoutRate        float64
	Activation         string
	Optimizer          string
	MaxConcurrentTrain int

	// C1 data preparation
	MaxCategorical   int
	MinTextLength    int
	HandleMissing    string // "mean" | "zero" | "drop"
	OutlierDetection bool

	// C5 prediction
	MaxPredictionBatch int
	PredictionTimeout  time.Duration
	RateLimitPredict   int
	RateLimitBatch     int
	RateLimitWindow    time.Duration

	// C4 model pool
	ModelPoolMaxSize    int
	ModelPoolMinSize    int
	ModelPoolIdleTTL    time.Duration
	ModelPoolSweepEvery time.Duration

	// C8.3 security
	AdversarialStatThreshold float64
	AdversarialHighThreshold float64

	// C8.2 drift/health
	DriftPSIThreshold  float64
	DriftCheckInterval time.Duration

	// C8.4 AutoML
	AutoMLMaxTrials   int
	AutoMLMaxDuration time.Duration

	// C8.1 deployment
	DefaultDeploymentStrategy string
	CanaryTrafficPercent      int
	RollbackEnabled           bool

	// job queue
	QueueThreshold int
	JobTimeout     int
	MinWorkers     int
	MaxWorkers     int

	OrchestratorURL    string
	StorageAccessToken string
}

// LoadConfig loads configuration from environment variables, applying
// spec.md §6's documented defaults for every AI_* variable.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),

		ModelStorage:     getEnv("MODEL_STORAGE", "local"),
		MetadataDriver:   getEnv("AI_METADATA_DRIVER", "sqlite"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		StorageRoot:      getEnv("STORAGE_ROOT", "./data/models"),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		StoragePrefix:    getEnv("STORAGE_PREFIX", "models/"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", ""),

		TrainEpochs:        getEnvAsInt("AI_TRAIN_EPOCHS", 10),
		BatchSize:          getEnvAsInt("AI_BATCH_SIZE", 32),
		LearningRate:       getEnvAsFloat("AI_LEARNING_RATE", 0.001),
		TrainLimit:         getEnvAsInt("AI_TRAIN_LIMIT", 0),
		TrainSeed:          int64(getEnvAsInt("AI_TRAIN_SEED", 42)),
		ValidationSplit:    getEnvAsFloat("AI_VALIDATION_SPLIT", 0.2),
		HiddenUnits:        getEnvAsInt("AI_HIDDEN_UNITS", 64),
		DropoutRate:        getEnvAsFloat("AI_DROPOUT_RATE", 0.2),
		Activation:         getEnv("AI_ACTIVATION", "relu"),
		Optimizer:          getEnv("AI_OPTIMIZER", "sgd"),
		MaxConcurrentTrain: getEnvAsInt("AI_MAX_CONCURRENT_TRAINING", 4),

		MaxCategorical:   getEnvAsInt("AI_MAX_CATEGORICAL", 20),
		MinTextLength:    getEnvAsInt("AI_MIN_TEXT_LENGTH", 3),
		HandleMissing:    getEnv("AI_HANDLE_MISSING", "mean"),
		OutlierDetection: getEnvAsBool("AI_OUTLIER_DETECTION", false),

		MaxPredictionBatch: getEnvAsInt("AI_MAX_PREDICTION_BATCH", 256),
		PredictionTimeout:  getEnvAsDuration("AI_PREDICTION_TIMEOUT", 5*time.Second),
		RateLimitPredict:   getEnvAsInt("AI_RATE_LIMIT_PREDICT", 30),
		RateLimitBatch:     getEnvAsInt("AI_RATE_LIMIT_BATCH", 10),
		RateLimitWindow:    getEnvAsDuration("AI_RATE_LIMIT_WINDOW", 60*time.Second),

		ModelPoolMaxSize:    getEnvAsInt("AI_MODEL_POOL_MAX_SIZE", 50),
		ModelPoolMinSize:    getEnvAsInt("AI_MODEL_POOL_MIN_SIZE", 5),
		ModelPoolIdleTTL:    getEnvAsDuration("AI_MODEL_POOL_IDLE_TTL", 10*time.Minute),
		ModelPoolSweepEvery: getEnvAsDuration("AI_MODEL_POOL_SWEEP_INTERVAL", time.Minute),

		AdversarialStatThreshold: getEnvAsFloat("AI_ADVERSARIAL_MEDIUM_THRESHOLD", 0.5),
		AdversarialHighThreshold: getEnvAsFloat("AI_ADVERSARIAL_HIGH_THRESHOLD", 0.8),

		DriftPSIThreshold:  getEnvAsFloat("AI_DRIFT_PSI_THRESHOLD", 0.2),
		DriftCheckInterval: getEnvAsDuration("AI_DRIFT_CHECK_INTERVAL", time.Hour),

		AutoMLMaxTrials:   getEnvAsInt("AI_AUTOML_MAX_TRIALS", 20),
		AutoMLMaxDuration: getEnvAsDuration("AI_AUTOML_MAX_DURATION", 5*time.Minute),

		DefaultDeploymentStrategy: getEnv("AI_DEFAULT_DEPLOYMENT_STRATEGY", "immediate"),
		CanaryTrafficPercent:      getEnvAsInt("AI_CANARY_TRAFFIC_PERCENT", 10),
		RollbackEnabled:           getEnvAsBool("AI_ROLLBACK_ENABLED", true),

		QueueThreshold: getEnvAsInt("AI_QUEUE_THRESHOLD", 5),
		JobTimeout:     getEnvAsInt("AI_QUEUE_JOB_TIMEOUT", 3600),
		MinWorkers:     getEnvAsInt("AI_QUEUE_MIN_WORKERS", 1),
		MaxWorkers:     getEnvAsInt("AI_QUEUE_MAX_WORKERS", 50),

		OrchestratorURL:    getEnv("ORCHESTRATOR_URL", "http://localhost:8080"),
		StorageAccessToken: getEnv("STORAGE_ACCESS_TOKEN", ""),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
