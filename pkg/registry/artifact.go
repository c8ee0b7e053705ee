package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/training"
)

// loadArtifactFile deserializes a fetched version directory's weights.json,
// mirroring pkg/prediction's identical small helper and pkg/incremental's
// near-identical one (which does not call EnsureRNG) —
// each package loads artifacts from a directory C3 already fetched, with no
// shared higher-level type worth factoring out across three packages this
// small.
func loadArtifactFile(dir string) (*training.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, "weights.json"))
	if err != nil {
		return nil, apierr.Storage(err, "failed to read weights for %s", dir)
	}
	var artifact training.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, apierr.Storage(err, "failed to parse weights for %s", dir)
	}
	artifact.EnsureRNG(0)
	return &artifact, nil
}
