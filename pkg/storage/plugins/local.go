package plugins

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mlforge/core/pkg/models"
)

// LocalPlugin is the filesystem StoragePlugin backend: a directory-per-version
// layout under baseDir, one JSON manifest plus weight-shard files per version
// (spec.md §6 "version directory layout"). Adapted from the teacher's
// directory-per-entity-type JSON persistence idiom, now keyed by
// modelID/version instead of CIR entity type.
type LocalPlugin struct {
	baseDir string
}

// NewLocalPlugin constructs an uninitialized local plugin; call Initialize
// before use (matches the registry's Initialize-then-delegate dispatch).
func NewLocalPlugin() *LocalPlugin {
	return &LocalPlugin{}
}

// Initialize sets the base directory from config.Options["base_dir"],
// defaulting to the connection string itself if options are absent.
func (p *LocalPlugin) Initialize(config *models.PluginConfig) error {
	baseDir := config.ConnectionString
	if config.Options != nil {
		if bd, ok := config.Options["base_dir"].(string); ok && bd != "" {
			baseDir = bd
		}
	}
	if baseDir == "" {
		return fmt.Errorf("local storage plugin requires a base directory")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	p.baseDir = baseDir
	return nil
}

func (p *LocalPlugin) versionDir(modelID, version string) string {
	return filepath.Join(p.baseDir, modelID, version)
}

func (p *LocalPlugin) manifestPath(modelID, version string) string {
	return filepath.Join(p.versionDir(modelID, version), "manifest.json")
}

// URI returns the canonical path to a version directory.
func (p *LocalPlugin) URI(modelID, version string) string {
	return p.versionDir(modelID, version)
}

// LocalDir returns the local cache path, which for this backend is the
// canonical location itself — no separate cache tier.
func (p *LocalPlugin) LocalDir(modelID, version string) string {
	return p.versionDir(modelID, version)
}

// Save copies every file under localDir into the canonical version
// directory via a temp-dir-then-rename sequence so a reader never observes
// a partially-written version (spec.md §4.3 "atomic publish").
func (p *LocalPlugin) Save(modelID, version, localDir string) (string, error) {
	dest := p.versionDir(modelID, version)
	tmp := dest + ".tmp"

	if err := os.RemoveAll(tmp); err != nil {
		return "", fmt.Errorf("failed to clear staging dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := copyDir(localDir, tmp); err != nil {
		return "", fmt.Errorf("failed to stage version files: %w", err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear previous version: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("failed to publish version: %w", err)
	}

	return dest, nil
}

// Fetch validates the manifest exists and returns the canonical directory;
// there is nothing to download for the local backend.
func (p *LocalPlugin) Fetch(modelID, version string) (string, error) {
	exists, err := p.Exists(modelID, version)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("version not found: %s/%s", modelID, version)
	}
	return p.versionDir(modelID, version), nil
}

// Exists checks for the presence of the manifest file.
func (p *LocalPlugin) Exists(modelID, version string) (bool, error) {
	_, err := os.Stat(p.manifestPath(modelID, version))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HealthCheck verifies the base directory is writable.
func (p *LocalPlugin) HealthCheck() (bool, error) {
	probe := filepath.Join(p.baseDir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false, err
	}
	_ = os.Remove(probe)
	return true, nil
}

// WriteManifest writes the manifest.json describing a version's weight
// shards, used by C2/C6 before calling Save.
func WriteManifest(localDir string, manifest *models.ModelManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	return os.WriteFile(filepath.Join(localDir, "manifest.json"), data, 0o644)
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
