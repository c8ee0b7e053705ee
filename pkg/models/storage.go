package models

// PluginConfig configures a model storage backend (spec.md §4.3).
type PluginConfig struct {
	ConnectionString string                 `json:"connection_string"`
	Options          map[string]interface{} `json:"options,omitempty"`
}

// ModelManifest describes the files that make up one saved version: the
// weight-shard paths a loader must fetch before it can load without further
// network access (spec.md §4.3 "Manifest discovery").
type ModelManifest struct {
	ModelID      string   `json:"model_id"`
	Version      string   `json:"version"`
	WeightShards []string `json:"weight_shards"`
	PrepFile     string   `json:"prep_file"`
}

// StoragePlugin abstracts the persistence location of model artifacts
// (C3, spec.md §4.3). Three interchangeable backends implement it: local
// filesystem, object-store-A (S3-like), object-store-B (GCS-like).
type StoragePlugin interface {
	// Initialize configures the plugin from backend-specific options.
	Initialize(config *PluginConfig) error

	// URI returns the canonical remote URI for a version directory.
	URI(modelID, version string) string

	// LocalDir returns the local cache path for a version directory.
	LocalDir(modelID, version string) string

	// Save uploads every file under localDir to the remote URI (a no-op for
	// the local backend beyond path bookkeeping) and returns the canonical URI.
	Save(modelID, version, localDir string) (string, error)

	// Fetch downloads the manifest and every weight shard it declares into
	// the local cache, returning the local directory.
	Fetch(modelID, version string) (string, error)

	// Exists checks for the presence of the manifest at the canonical location.
	Exists(modelID, version string) (bool, error)

	// HealthCheck validates connectivity/availability of the backend.
	HealthCheck() (bool, error)
}
