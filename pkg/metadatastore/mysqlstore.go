package metadatastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mlforge/core/pkg/models"
)

// MySQLStore is the alternate metadata backend for multi-replica
// orchestrator deployments, where SQLite's single-writer file lock is too
// restrictive (spec.md §6 "metadata store: sqlite (default) | mysql").
// Schema and query shape mirror SQLiteStore; JSON payloads live in a `data`
// column with the indexed columns kept in sync for fast filtering.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against the given DSN
// (user:pass@tcp(host:port)/dbname?parseTime=true) and ensures schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(128) NOT NULL,
			name VARCHAR(255) NOT NULL,
			classification VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			current_version VARCHAR(64),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			data LONGTEXT NOT NULL,
			INDEX idx_models_owner_id (owner_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			version VARCHAR(64) NOT NULL,
			timestamp DATETIME NOT NULL,
			data LONGTEXT NOT NULL,
			INDEX idx_predictions_model_id (model_id, timestamp)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			state VARCHAR(32) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			data LONGTEXT NOT NULL,
			INDEX idx_deployments_model_id (model_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS ab_tests (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			stopped_at DATETIME NULL,
			started_at DATETIME NOT NULL,
			data LONGTEXT NOT NULL,
			INDEX idx_ab_tests_model_id (model_id)
		) ENGINE=InnoDB`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveModel upserts a model record.
func (s *MySQLStore) SaveModel(model *models.Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	query := `
		INSERT INTO models (id, owner_id, name, classification, status, current_version, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE owner_id=VALUES(owner_id), name=VALUES(name),
			classification=VALUES(classification), status=VALUES(status),
			current_version=VALUES(current_version), updated_at=VALUES(updated_at), data=VALUES(data)
	`

	_, err = s.db.Exec(query,
		model.ID, model.OwnerID, model.Name, model.Classification, model.Status,
		model.CurrentVersion, model.CreatedAt, model.UpdatedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// GetModel retrieves a model by ID.
func (s *MySQLStore) GetModel(id string) (*models.Model, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM models WHERE id = ?`, id).Scan(&data)
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
func (s *MySQLStore) ListModels() ([]*models.Model, error) {
	rows, err := s.db.Query(`SELECT data FROM models ORDER BY created_at DESC`)
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
func (s *MySQLStore) ListModelsByOwner(ownerID string) ([]*models.Model, error) {
	rows, err := s.db.Query(`SELECT data FROM models WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
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
func (s *MySQLStore) DeleteModel(id string) error {
	_, err := s.db.Exec(`DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

// SavePrediction persists a prediction record.
func (s *MySQLStore) SavePrediction(prediction *models.PredictionRecord) error {
	data, err := json.Marshal(prediction)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	query := `
		INSERT INTO predictions (id, model_id, version, timestamp, data)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE version=VALUES(version), timestamp=VALUES(timestamp), data=VALUES(data)
	`

	_, err = s.db.Exec(query, prediction.ID, prediction.ModelID, prediction.Version, prediction.Timestamp, string(data))
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// GetPrediction retrieves a prediction record by ID.
func (s *MySQLStore) GetPrediction(id string) (*models.PredictionRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM predictions WHERE id = ?`, id).Scan(&data)
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

// ListPredictionsByModel lists the most recent predictions for a model.
func (s *MySQLStore) ListPredictionsByModel(modelID string, limit int) ([]*models.PredictionRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT data FROM predictions WHERE model_id = ? ORDER BY timestamp DESC LIMIT ?`, modelID, limit)
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
func (s *MySQLStore) RecordFeedback(predictionID string, feedback *models.FeedbackEntry) error {
	prediction, err := s.GetPrediction(predictionID)
	if err != nil {
		return err
	}
	prediction.Feedback = feedback
	return s.SavePrediction(prediction)
}

// SaveDeployment upserts a deployment state-machine instance.
func (s *MySQLStore) SaveDeployment(deployment *models.Deployment) error {
	data, err := json.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	query := `
		INSERT INTO deployments (id, model_id, state, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state=VALUES(state), updated_at=VALUES(updated_at), data=VALUES(data)
	`

	_, err = s.db.Exec(query, deployment.ID, deployment.ModelID, deployment.State, deployment.CreatedAt, deployment.UpdatedAt, string(data))
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *MySQLStore) GetDeployment(id string) (*models.Deployment, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM deployments WHERE id = ?`, id).Scan(&data)
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
func (s *MySQLStore) ListDeploymentsByModel(modelID string) ([]*models.Deployment, error) {
	rows, err := s.db.Query(`SELECT data FROM deployments WHERE model_id = ? ORDER BY created_at DESC`, modelID)
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
func (s *MySQLStore) SaveABTest(test *models.ABTest) error {
	data, err := json.Marshal(test)
	if err != nil {
		return fmt.Errorf("failed to marshal ab_test: %w", err)
	}

	query := `
		INSERT INTO ab_tests (id, model_id, stopped_at, started_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE stopped_at=VALUES(stopped_at), data=VALUES(data)
	`

	_, err = s.db.Exec(query, test.ID, test.ModelID, test.StoppedAt, test.StartedAt, string(data))
	if err != nil {
		return fmt.Errorf("failed to save ab_test: %w", err)
	}
	return nil
}

// GetABTest retrieves an A/B test by ID.
func (s *MySQLStore) GetABTest(id string) (*models.ABTest, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM ab_tests WHERE id = ?`, id).Scan(&data)
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
func (s *MySQLStore) ListActiveABTests() ([]*models.ABTest, error) {
	rows, err := s.db.Query(`SELECT data FROM ab_tests WHERE stopped_at IS NULL ORDER BY started_at DESC`)
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
