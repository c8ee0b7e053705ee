package models

// FeatureType is the inferred type of a training feature (spec.md §4.1).
type FeatureType string

const (
	FeatureNumeric     FeatureType = "numeric"
	FeatureBoolean     FeatureType = "boolean"
	FeatureCategorical FeatureType = "categorical"
	FeatureText        FeatureType = "text"
)

// NormalizationStats is the per-output-dimension mean/std computed from the
// training split only (spec.md §4.1 "Normalization").
type NormalizationStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// EmbeddingEntry is a single (feature, value) -> vector mapping persisted for
// text features when embeddings are enabled.
type EmbeddingEntry struct {
	Feature string    `json:"feature"`
	Value   string    `json:"value"`
	Vector  []float64 `json:"vector"`
}

// PreprocessingMetadata is the deterministic, ordered record persisted as
// prep.json alongside every version directory (spec.md §3, §9 "Dynamic field
// maps -> typed metadata"). Fields are explicit and ordered rather than an
// open map. Loaders decode it with encoding/json, which ignores unknown tags.
type PreprocessingMetadata struct {
	FeatureOrder       []string                  `json:"feature_order"`
	TargetName         string                    `json:"target_name,omitempty"`
	ModelType          Algorithm                 `json:"model_type"`
	FeatureTypes       map[string]FeatureType    `json:"feature_types"`
	CategoryMaps       map[string][]string       `json:"category_maps,omitempty"`
	EmbeddingDimension int                       `json:"embedding_dimension,omitempty"`
	Embeddings         []EmbeddingEntry          `json:"embeddings,omitempty"`
	Normalization      []NormalizationStats      `json:"normalization"`
	TargetCategories   []string                  `json:"target_categories,omitempty"`
	LabelDimension     int                       `json:"label_dimension"`
}

// KnownPrepTags is the set of top-level JSON tags PreprocessingMetadata
// declares. No loader consults it: unknown tags in a prep.json file are
// ignored, not rejected.
var KnownPrepTags = map[string]bool{
	"feature_order": true, "target_name": true, "model_type": true,
	"feature_types": true, "category_maps": true, "embedding_dimension": true,
	"embeddings": true, "normalization": true, "target_categories": true,
	"label_dimension": true,
}
