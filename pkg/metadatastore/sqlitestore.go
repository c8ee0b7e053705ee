package metadatastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mlforge/core/pkg/models"
)

// SQLiteStore provides SQLite-based persistence for model records, prediction
// history, deployments, and A/B tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based storage instance.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Format: file:path?param=value
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// For SQLite, keep this relatively low since writes are serialized anyway.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	// In-memory databases use "delete" or "memory" mode, which is acceptable for testing.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "delete" && journalMode != "memory" {
		return nil, fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryOnBusy retries a database operation if it fails due to SQLITE_BUSY.
// This provides an additional safety net on top of the busy_timeout pragma.
func (s *SQLiteStore) retryOnBusy(operation func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if err.Error() == "database is locked (5) (SQLITE_BUSY)" {
			backoff := time.Duration(10*(1<<uint(i))) * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS models (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		classification TEXT NOT NULL,
		status TEXT NOT NULL,
		current_version TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_models_owner_id ON models(owner_id);

	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		version TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		data TEXT NOT NULL,
		FOREIGN KEY (model_id) REFERENCES models(id)
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_model_id ON predictions(model_id, timestamp DESC);

	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL,
		FOREIGN KEY (model_id) REFERENCES models(id)
	);

	CREATE INDEX IF NOT EXISTS idx_deployments_model_id ON deployments(model_id);

	CREATE TABLE IF NOT EXISTS ab_tests (
		id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		stopped_at DATETIME,
		started_at DATETIME NOT NULL,
		data TEXT NOT NULL,
		FOREIGN KEY (model_id) REFERENCES models(id)
	);

	CREATE INDEX IF NOT EXISTS idx_ab_tests_model_id ON ab_tests(model_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveModel upserts a model record.
func (s *SQLiteStore) SaveModel(model *models.Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO models (id, owner_id, name, classification, status, current_version, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			model.ID,
			model.OwnerID,
			model.Name,
			model.Classification,
			model.Status,
			model.CurrentVersion,
			model.CreatedAt,
			model.UpdatedAt,
			string(data),
		)
		return execErr
	}, 5)

	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// GetModel retrieves a model by ID.
func (s *SQLiteStore) GetModel(id string) (*models.Model, error) {
	var data string
	query := `SELECT data FROM models WHERE id = ?`

	err := s.db.QueryRow(query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("model not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	var model models.Model
	if err := json.Unmarshal([]byte(data), &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	return &model, nil
}

// ListModels lists all models.
func (s *SQLiteStore) ListModels() ([]*models.Model, error) {
	query := `SELECT data FROM models ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Model, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var model models.Model
		if err := json.Unmarshal([]byte(data), &model); err != nil {
			continue
		}
		result = append(result, &model)
	}
	return result, nil
}

// ListModelsByOwner lists all models owned by a tenant.
func (s *SQLiteStore) ListModelsByOwner(ownerID string) ([]*models.Model, error) {
	query := `SELECT data FROM models WHERE owner_id = ? ORDER BY created_at DESC`

	rows, err := s.db.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Model, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var model models.Model
		if err := json.Unmarshal([]byte(data), &model); err != nil {
			continue
		}
		result = append(result, &model)
	}
	return result, nil
}

// DeleteModel deletes a model record.
func (s *SQLiteStore) DeleteModel(id string) error {
	query := `DELETE FROM models WHERE id = ?`
	_, err := s.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

// SavePrediction persists a prediction record for feedback/drift history.
func (s *SQLiteStore) SavePrediction(prediction *models.PredictionRecord) error {
	data, err := json.Marshal(prediction)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO predictions (id, model_id, version, timestamp, data)
		VALUES (?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			prediction.ID,
			prediction.ModelID,
			prediction.Version,
			prediction.Timestamp,
			string(data),
		)
		return execErr
	}, 5)

	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// GetPrediction retrieves a prediction record by ID.
func (s *SQLiteStore) GetPrediction(id string) (*models.PredictionRecord, error) {
	var data string
	query := `SELECT data FROM predictions WHERE id = ?`

	err := s.db.QueryRow(query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prediction not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}

	var prediction models.PredictionRecord
	if err := json.Unmarshal([]byte(data), &prediction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}
	return &prediction, nil
}

// ListPredictionsByModel lists the most recent predictions for a model,
// newest first, bounded by limit (used by C8.2 drift/health computation).
func (s *SQLiteStore) ListPredictionsByModel(modelID string, limit int) ([]*models.PredictionRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT data FROM predictions WHERE model_id = ? ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.db.Query(query, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	result := make([]*models.PredictionRecord, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var prediction models.PredictionRecord
		if err := json.Unmarshal([]byte(data), &prediction); err != nil {
			continue
		}
		result = append(result, &prediction)
	}
	return result, nil
}

// RecordFeedback attaches feedback to an existing prediction record.
func (s *SQLiteStore) RecordFeedback(predictionID string, feedback *models.FeedbackEntry) error {
	prediction, err := s.GetPrediction(predictionID)
	if err != nil {
		return err
	}
	prediction.Feedback = feedback
	return s.SavePrediction(prediction)
}

// SaveDeployment upserts a deployment state-machine instance.
func (s *SQLiteStore) SaveDeployment(deployment *models.Deployment) error {
	data, err := json.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO deployments (id, model_id, state, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			deployment.ID,
			deployment.ModelID,
			deployment.State,
			deployment.CreatedAt,
			deployment.UpdatedAt,
			string(data),
		)
		return execErr
	}, 5)

	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(id string) (*models.Deployment, error) {
	var data string
	query := `SELECT data FROM deployments WHERE id = ?`

	err := s.db.QueryRow(query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	var deployment models.Deployment
	if err := json.Unmarshal([]byte(data), &deployment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}
	return &deployment, nil
}

// ListDeploymentsByModel lists all deployments for a model, newest first.
func (s *SQLiteStore) ListDeploymentsByModel(modelID string) ([]*models.Deployment, error) {
	query := `SELECT data FROM deployments WHERE model_id = ? ORDER BY created_at DESC`

	rows, err := s.db.Query(query, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Deployment, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var deployment models.Deployment
		if err := json.Unmarshal([]byte(data), &deployment); err != nil {
			continue
		}
		result = append(result, &deployment)
	}
	return result, nil
}

// SaveABTest upserts an A/B test record.
func (s *SQLiteStore) SaveABTest(test *models.ABTest) error {
	data, err := json.Marshal(test)
	if err != nil {
		return fmt.Errorf("failed to marshal ab_test: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO ab_tests (id, model_id, stopped_at, started_at, data)
		VALUES (?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			test.ID,
			test.ModelID,
			test.StoppedAt,
			test.StartedAt,
			string(data),
		)
		return execErr
	}, 5)

	if err != nil {
		return fmt.Errorf("failed to save ab_test: %w", err)
	}
	return nil
}

// GetABTest retrieves an A/B test by ID.
func (s *SQLiteStore) GetABTest(id string) (*models.ABTest, error) {
	var data string
	query := `SELECT data FROM ab_tests WHERE id = ?`

	err := s.db.QueryRow(query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ab_test not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ab_test: %w", err)
	}

	var test models.ABTest
	if err := json.Unmarshal([]byte(data), &test); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ab_test: %w", err)
	}
	return &test, nil
}

// ListActiveABTests lists A/B tests that have not yet been stopped.
func (s *SQLiteStore) ListActiveABTests() ([]*models.ABTest, error) {
	query := `SELECT data FROM ab_tests WHERE stopped_at IS NULL ORDER BY started_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ab_tests: %w", err)
	}
	defer rows.Close()

	result := make([]*models.ABTest, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var test models.ABTest
		if err := json.Unmarshal([]byte(data), &test); err != nil {
			continue
		}
		result = append(result, &test)
	}
	return result, nil
}
