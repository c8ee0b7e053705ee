// Command orchestrator is the composition root: it wires every C1-C8
// service to its concrete backends, starts the scheduler's periodic jobs,
// runs a queue-draining worker loop, and serves the HTTP API. Grounded on
// the teacher's cmd/orchestrator/main.go explicit-construction style (load
// config, build each service, wire handlers, start in goroutines, wait on
// SIGINT/SIGTERM) with every tenant-pipeline service swapped for its
// ML-platform equivalent.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlforge/core/pkg/api"
	"github.com/mlforge/core/pkg/automl"
	"github.com/mlforge/core/pkg/config"
	"github.com/mlforge/core/pkg/dataprep"
	"github.com/mlforge/core/pkg/deployment"
	"github.com/mlforge/core/pkg/incremental"
	"github.com/mlforge/core/pkg/k8s"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/modellock"
	"github.com/mlforge/core/pkg/modelpool"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/monitor"
	"github.com/mlforge/core/pkg/orchestrator"
	"github.com/mlforge/core/pkg/prediction"
	"github.com/mlforge/core/pkg/queue"
	"github.com/mlforge/core/pkg/registry"
	"github.com/mlforge/core/pkg/scheduler"
	"github.com/mlforge/core/pkg/storage"
	storageplugins "github.com/mlforge/core/pkg/storage/plugins"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("starting mlforge orchestrator in %s mode", cfg.Environment)

	q, err := queue.NewQueue(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to job queue: %v", err)
	}
	defer q.Close()

	store := buildMetadataStore(cfg)
	storageSvc := buildStorageService(cfg)
	locks := modellock.NewRegistry(os.TempDir())

	poolCfg := modelpool.DefaultConfig()
	pool := modelpool.New(poolCfg)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Seed = cfg.TrainSeed
	orchCfg.Epochs = cfg.TrainEpochs
	orchCfg.BatchSize = cfg.BatchSize
	orchCfg.LearningRate = cfg.LearningRate
	if cfg.TrainLimit > 0 {
		orchCfg.RowCap = cfg.TrainLimit
	}
	orchSvc := orchestrator.NewService(store, storageSvc, nil, locks, orchCfg)

	regSvc := registry.NewService(store, storageSvc)
	monSvc := monitor.NewService(store, nil, monitor.DefaultConfig())
	depSvc := deployment.NewService(store, regSvc, monSvc, deployment.DefaultConfig())

	if k8sClient, err := k8s.NewClient("mlforge"); err != nil {
		log.Printf("kubernetes client unavailable, deployments will not materialize real slots: %v", err)
	} else {
		depSvc.SetSlotManager(k8sClient)
		log.Println("connected to kubernetes cluster for deployment slot management")
	}

	incSvc := incremental.NewService(store, storageSvc, pool, locks, incremental.DefaultConfig())
	predSvc := prediction.NewService(store, storageSvc, pool, regSvc, prediction.Config{
		MaxBatchSize: cfg.MaxPredictionBatch,
		Timeout:      cfg.PredictionTimeout,
	})

	schedSvc := scheduler.NewService(pool, incSvc, depSvc, monSvc, scheduler.DefaultConfig())
	if err := schedSvc.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer schedSvc.Stop()
	log.Println("started background scheduler (pool sweep, incremental flush, rollback evaluation)")

	server := api.NewServer(store, storageSvc, q, regSvc, depSvc, incSvc, monSvc, predSvc, api.RateLimitConfig{
		Predict: cfg.RateLimitPredict,
		Batch:   cfg.RateLimitBatch,
		Window:  cfg.RateLimitWindow,
	}, cfg.Port)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("api server exited: %v", err)
		}
	}()

	worker := &jobWorker{queue: q, store: store, orch: orchSvc, inc: incSvc, dep: depSvc}
	go worker.run()

	log.Println("mlforge orchestrator started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down orchestrator")
}

func buildMetadataStore(cfg *config.Config) metadatastore.MetadataStore {
	switch cfg.MetadataDriver {
	case "mysql":
		store, err := metadatastore.NewMySQLStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to initialize mysql metadata store: %v", err)
		}
		return store
	default:
		if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
			log.Fatalf("failed to create storage root: %v", err)
		}
		store, err := metadatastore.NewSQLiteStore(cfg.StorageRoot + "/mlforge.db")
		if err != nil {
			log.Fatalf("failed to initialize sqlite metadata store: %v", err)
		}
		return store
	}
}

// buildStorageService selects a StoragePlugin per spec.md §4.3's three
// interchangeable backends and registers only the one MODEL_STORAGE names
// as active, mirroring pkg/storage's RegisterPlugin/SetActive dispatch.
func buildStorageService(cfg *config.Config) *storage.Service {
	svc := storage.NewService()
	switch cfg.ModelStorage {
	case "s3-like", "gcs-like":
		plugin := storageplugins.NewObjectStorePlugin()
		if err := plugin.Initialize(&models.PluginConfig{
			Options: map[string]interface{}{
				"bucket":     cfg.StorageBucket,
				"prefix":     cfg.StoragePrefix,
				"endpoint":   cfg.StorageEndpoint,
				"access_key": cfg.StorageAccessKey,
				"secret_key": cfg.StorageSecretKey,
			},
		}); err != nil {
			log.Fatalf("failed to initialize object store plugin: %v", err)
		}
		svc.RegisterPlugin(cfg.ModelStorage, plugin)
		if err := svc.SetActive(cfg.ModelStorage); err != nil {
			log.Fatalf("failed to activate object store plugin: %v", err)
		}
	default:
		plugin := storageplugins.NewLocalPlugin()
		if err := plugin.Initialize(&models.PluginConfig{ConnectionString: cfg.StorageRoot}); err != nil {
			log.Fatalf("failed to initialize local storage plugin: %v", err)
		}
		svc.RegisterPlugin("local", plugin)
		if err := svc.SetActive("local"); err != nil {
			log.Fatalf("failed to activate local storage plugin: %v", err)
		}
	}
	return svc
}

// jobWorker drains the queue and dispatches each job to the service that
// owns its domain, the same single-process dequeue loop shape as the
// teacher's WorkerSpawner, minus the out-of-process Kubernetes handoff:
// every job type here runs in-process against already-constructed services.
type jobWorker struct {
	queue *queue.Queue
	store metadatastore.MetadataStore
	orch  *orchestrator.Service
	inc   *incremental.Service
	dep   *deployment.Service
}

func (w *jobWorker) run() {
	for {
		job, err := w.queue.Dequeue()
		if err != nil {
			log.Printf("[worker] dequeue error: %v", err)
			continue
		}
		if job == nil {
			continue
		}
		w.process(job)
	}
}

func (w *jobWorker) process(job *models.Job) {
	if err := w.queue.UpdateJobStatus(job.ID, models.JobStatusExecuting, ""); err != nil {
		log.Printf("[worker] failed to mark job %s executing: %v", job.ID, err)
	}

	var runErr error
	switch job.Type {
	case models.JobTypeModelTraining:
		_, runErr = w.orch.Train(context.Background(), job.TaskSpec.ModelID)
	case models.JobTypeIncrementalUpdate:
		runErr = w.inc.ForceUpdate(job.TaskSpec.ModelID)
	case models.JobTypeAutoMLTrial:
		runErr = w.runAutoML(job)
	case models.JobTypeDeployment:
		runErr = w.runDeployment(job)
	default:
		runErr = nil
	}

	if runErr != nil {
		log.Printf("[worker] job %s (%s) failed: %v", job.ID, job.Type, runErr)
		if err := w.queue.UpdateJobStatus(job.ID, models.JobStatusFailed, runErr.Error()); err != nil {
			log.Printf("[worker] failed to mark job %s failed: %v", job.ID, err)
		}
		return
	}
	if err := w.queue.UpdateJobStatus(job.ID, models.JobStatusCompleted, ""); err != nil {
		log.Printf("[worker] failed to mark job %s completed: %v", job.ID, err)
	}
}

// runAutoML builds the same C1-prepared dataset a full retrain would, then
// hands it to C8.4's search loop; the winning trial's hyperparameters are
// folded back into the model's config so a later /train picks them up
// (spec.md §4.8.4 "Returns optimal parameters... and the full trial history").
func (w *jobWorker) runAutoML(job *models.Job) error {
	modelID := job.TaskSpec.ModelID
	model, err := w.store.GetModel(modelID)
	if err != nil {
		return err
	}

	rows, err := orchestrator.FetchTrainingRows(context.Background(), nil, model.TrainingData.Source, 50000)
	if err != nil {
		return err
	}
	textFeatures := make(map[string]bool, len(model.Config.TextFeatures))
	for _, f := range model.Config.TextFeatures {
		textFeatures[f] = true
	}
	ds, err := dataprep.PrepareDataset(rows, dataprep.Options{
		FeatureNames:      model.Config.FeatureNames,
		TargetName:        model.Config.TargetName,
		TextFeatures:      textFeatures,
		Classification:    model.Classification,
		EmbeddingsEnabled: model.Config.EmbeddingsOn,
	})
	if err != nil {
		return err
	}

	space := automl.DefaultSearchSpace(model.Classification)
	constraints := automl.DefaultConstraints()
	if job.TaskSpec.Parameters != nil {
		if v, ok := job.TaskSpec.Parameters["max_trials"].(float64); ok && v > 0 {
			constraints.MaxTrials = int(v)
		}
	}

	result := automl.Search(ds, model.Classification, space, constraints)
	if result.Best == nil {
		return nil
	}

	best := result.Best.Params
	if model.Config.Parameters == nil {
		model.Config.Parameters = map[string]interface{}{}
	}
	model.Config.Parameters["automl_best_score"] = result.Best.Score
	model.Config.Parameters["automl_best_learning_rate"] = best.LearningRate
	model.Config.Parameters["automl_best_epochs"] = best.Epochs
	model.Config.Parameters["automl_best_batch_size"] = best.BatchSize
	model.Config.Parameters["automl_best_algorithm"] = string(best.Algorithm)
	model.Config.Parameters["automl_trial_count"] = len(result.History)
	model.Config.Algorithm = best.Algorithm
	return w.store.SaveModel(model)
}

func (w *jobWorker) runDeployment(job *models.Job) error {
	req := &models.DeployRequest{}
	if v, ok := job.TaskSpec.Parameters["version"].(string); ok {
		req.Version = v
	}
	if v, ok := job.TaskSpec.Parameters["stage"].(string); ok {
		req.Stage = models.Stage(v)
	}
	if v, ok := job.TaskSpec.Parameters["strategy"].(string); ok {
		req.Strategy = models.DeploymentStrategy(v)
	}
	_, err := w.dep.Deploy(job.TaskSpec.ModelID, req)
	return err
}
