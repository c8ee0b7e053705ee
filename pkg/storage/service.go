package storage

import (
	"fmt"
	"log"
	"sync"

	"github.com/mlforge/core/pkg/models"
)

// Service is the Model Storage Adapter (C3, spec.md §4.3): a registry of
// interchangeable StoragePlugin backends (local filesystem, object-store-A
// S3-like, object-store-B GCS-like) behind one Save/Fetch/Exists/HealthCheck
// surface, so C2/C4/C6/C7 never branch on backend type.
type Service struct {
	plugins map[string]models.StoragePlugin
	active  string
	mu      sync.RWMutex
}

// NewService creates a new storage service with no backend selected yet.
func NewService() *Service {
	return &Service{
		plugins: make(map[string]models.StoragePlugin),
	}
}

// RegisterPlugin registers a storage plugin under a backend name ("local",
// "s3", "gcs"). The first plugin registered becomes the active backend.
func (s *Service) RegisterPlugin(backend string, plugin models.StoragePlugin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[backend] = plugin
	if s.active == "" {
		s.active = backend
	}
	log.Printf("registered storage plugin: %s", backend)
}

// SetActive selects which registered backend subsequent calls use.
func (s *Service) SetActive(backend string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[backend]; !ok {
		return fmt.Errorf("storage plugin not registered: %s", backend)
	}
	s.active = backend
	return nil
}

func (s *Service) activePlugin() (models.StoragePlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plugin, ok := s.plugins[s.active]
	if !ok {
		return nil, fmt.Errorf("no active storage backend configured")
	}
	return plugin, nil
}

// URI returns the canonical remote URI for a model version directory.
func (s *Service) URI(modelID, version string) (string, error) {
	plugin, err := s.activePlugin()
	if err != nil {
		return "", err
	}
	return plugin.URI(modelID, version), nil
}

// SaveVersion uploads a freshly-written local version directory
// (weight shards + prep.json + manifest) to the active backend and returns
// its canonical URI. C2/C6 write to a temp local dir and call this once
// training/incremental-update completes, satisfying the "write-then-rename"
// atomic publish in spec.md §4.3.
func (s *Service) SaveVersion(modelID, version, localDir string) (string, error) {
	plugin, err := s.activePlugin()
	if err != nil {
		return "", err
	}
	uri, err := plugin.Save(modelID, version, localDir)
	if err != nil {
		return "", fmt.Errorf("failed to save version: %w", err)
	}
	log.Printf("saved model %s version %s to %s", modelID, version, uri)
	return uri, nil
}

// FetchVersion downloads a version's manifest and weight shards into the
// local cache and returns the local directory (C4's cold-load path).
func (s *Service) FetchVersion(modelID, version string) (string, error) {
	plugin, err := s.activePlugin()
	if err != nil {
		return "", err
	}
	dir, err := plugin.Fetch(modelID, version)
	if err != nil {
		return "", fmt.Errorf("failed to fetch version: %w", err)
	}
	return dir, nil
}

// VersionExists checks whether a version's manifest is present.
func (s *Service) VersionExists(modelID, version string) (bool, error) {
	plugin, err := s.activePlugin()
	if err != nil {
		return false, err
	}
	return plugin.Exists(modelID, version)
}

// HealthCheck validates connectivity/availability of the active backend.
func (s *Service) HealthCheck() (bool, error) {
	plugin, err := s.activePlugin()
	if err != nil {
		return false, err
	}
	return plugin.HealthCheck()
}
