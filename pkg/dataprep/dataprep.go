// Package dataprep implements C1, the data preparation & schema pipeline:
// it turns heterogeneous training rows into numeric tensors plus the
// PreprocessingMetadata needed to replay the exact same transform at
// inference (spec.md §4.1). Grounded on the teacher's
// pkg/mlmodel/training/trainer.go TrainingData shape and the deleted-but-read
// pipelines/ML/trainer.go stratifiedSplit idiom (seeded LCG shuffle, 80/10/10
// ratios).
package dataprep

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/stat"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/models"
)

// DefaultCategoricalCardinality is the default distinct-value cap below which
// a feature is treated as categorical rather than text.
const DefaultCategoricalCardinality = 100

// Row is one training example: raw field name -> raw value.
type Row map[string]interface{}

// EmbeddingProvider supplies fixed-dimensional embeddings for text feature
// values. Absent in the default configuration (spec.md §4.1 falls back to
// four deterministic scalar features when no provider is configured).
type EmbeddingProvider interface {
	Embed(value string) ([]float64, error)
	Dimension() int
}

// Options configures one PrepareDataset call.
type Options struct {
	FeatureNames        []string
	TargetName          string
	TextFeatures        map[string]bool // caller-declared text features, skip cardinality check
	Classification       models.ModelClassification
	CategoricalCardinality int // default DefaultCategoricalCardinality
	Seed                int64
	EmbeddingsEnabled   bool
	EmbeddingProvider   EmbeddingProvider
}

// Dataset is the prepared tensors plus the metadata required to replay the
// transform, returned to C2's training pipeline.
type Dataset struct {
	TrainFeatures [][]float64
	TrainLabels   [][]float64
	ValFeatures   [][]float64
	ValLabels     [][]float64
	TestFeatures  [][]float64
	TestLabels    [][]float64
	Metadata      *models.PreprocessingMetadata
	DatasetHash   string
	RecordCount   int
}

// featureTypeInfo tracks what PrepareDataset inferred per feature before
// encoding, so it can build category lists / embedding dictionaries in one
// pass.
type featureTypeInfo struct {
	kind       models.FeatureType
	categories map[string]bool
}

// PrepareDataset runs feature typing, encoding, target encoding,
// normalization, and the stratified split, returning tensors ready for C2's
// network builder.
func PrepareDataset(rows []Row, opts Options) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, apierr.Wrap(apierr.KindValidation, "EmptyDataset", nil)
	}
	cardinalityCap := opts.CategoricalCardinality
	if cardinalityCap <= 0 {
		cardinalityCap = DefaultCategoricalCardinality
	}
	if opts.TargetName != "" {
		found := false
		for _, row := range rows {
			if _, ok := row[opts.TargetName]; ok {
				found = true
				break
			}
		}
		if !found {
			return nil, apierr.Wrap(apierr.KindValidation, "TargetMissing", nil)
		}
	}

	featureTypes := make(map[string]featureTypeInfo, len(opts.FeatureNames))
	for _, name := range opts.FeatureNames {
		featureTypes[name] = inferFeatureType(rows, name, opts.TextFeatures[name], cardinalityCap)
	}

	categoryMaps := make(map[string][]string)
	for name, info := range featureTypes {
		if info.kind == models.FeatureCategorical {
			cats := make([]string, 0, len(info.categories))
			for c := range info.categories {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			categoryMaps[name] = cats
		}
	}

	var embeddings []models.EmbeddingEntry
	embeddingDim := 0
	embeddingsActive := opts.EmbeddingsEnabled && opts.EmbeddingProvider != nil
	if embeddingsActive {
		embeddingDim = opts.EmbeddingProvider.Dimension()
		seen := make(map[string]bool)
		for _, row := range rows {
			for name, info := range featureTypes {
				if info.kind != models.FeatureText {
					continue
				}
				val := fmt.Sprintf("%v", row[name])
				key := name + "\x00" + val
				if seen[key] {
					continue
				}
				seen[key] = true
				vec, err := opts.EmbeddingProvider.Embed(val)
				if err != nil {
					// Degrade to the four-scalar fallback for every text feature.
					embeddingsActive = false
					embeddings = nil
					break
				}
				embeddings = append(embeddings, models.EmbeddingEntry{Feature: name, Value: val, Vector: vec})
			}
			if !embeddingsActive {
				break
			}
		}
	}
	embeddingLookup := make(map[string][]float64, len(embeddings))
	for _, e := range embeddings {
		embeddingLookup[e.Feature+"\x00"+e.Value] = e.Vector
	}

	var targetCategories []string
	labelDim := 1
	isClassification := opts.Classification == models.ClassificationTask || opts.Classification == models.NLPTask
	if opts.TargetName != "" && isClassification {
		cats := make(map[string]bool)
		for _, row := range rows {
			v := row[opts.TargetName]
			if v == nil {
				continue
			}
			if _, numeric := toFloat(v); !numeric {
				cats[fmt.Sprintf("%v", v)] = true
			}
		}
		if len(cats) > 0 {
			targetCategories = make([]string, 0, len(cats))
			for c := range cats {
				targetCategories = append(targetCategories, c)
			}
			sort.Strings(targetCategories)
			labelDim = len(targetCategories)
		}
	}

	encodeRow := func(row Row) []float64 {
		var out []float64
		for _, name := range opts.FeatureNames {
			info, declared := featureTypes[name]
			if !declared {
				continue
			}
			raw, present := row[name]
			switch info.kind {
			case models.FeatureNumeric:
				if !present {
					out = append(out, 0)
					break
				}
				v, _ := toFloat(raw)
				out = append(out, v)
			case models.FeatureBoolean:
				if b, ok := raw.(bool); ok && b {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			case models.FeatureCategorical:
				cats := categoryMaps[name]
				vec := make([]float64, len(cats))
				val := fmt.Sprintf("%v", raw)
				for i, c := range cats {
					if c == val {
						vec[i] = 1
						break
					}
				}
				out = append(out, vec...)
			case models.FeatureText:
				val := fmt.Sprintf("%v", raw)
				if embeddingsActive {
					vec, ok := embeddingLookup[name+"\x00"+val]
					if !ok {
						if v, err := opts.EmbeddingProvider.Embed(val); err == nil {
							vec = v
						} else {
							vec = make([]float64, embeddingDim)
						}
					}
					out = append(out, vec...)
				} else {
					out = append(out, textScalarFeatures(val)...)
				}
			}
		}
		return out
	}

	encodeLabel := func(row Row) []float64 {
		if opts.TargetName == "" {
			return nil
		}
		raw, present := row[opts.TargetName]
		if !present {
			return make([]float64, labelDim)
		}
		if len(targetCategories) > 0 {
			vec := make([]float64, len(targetCategories))
			val := fmt.Sprintf("%v", raw)
			for i, c := range targetCategories {
				if c == val {
					vec[i] = 1
					break
				}
			}
			return vec
		}
		v, _ := toFloat(raw)
		return []float64{v}
	}

	trainIdx, valIdx, testIdx := stratifiedSplit(rows, opts.TargetName, opts.Seed)

	build := func(idx []int) ([][]float64, [][]float64) {
		feats := make([][]float64, 0, len(idx))
		labels := make([][]float64, 0, len(idx))
		for _, i := range idx {
			feats = append(feats, encodeRow(rows[i]))
			if opts.TargetName != "" {
				labels = append(labels, encodeLabel(rows[i]))
			}
		}
		return feats, labels
	}

	trainFeatures, trainLabels := build(trainIdx)
	valFeatures, valLabels := build(valIdx)
	testFeatures, testLabels := build(testIdx)

	normStats := computeNormalization(trainFeatures)
	applyNormalization(trainFeatures, normStats)
	applyNormalization(valFeatures, normStats)
	applyNormalization(testFeatures, normStats)

	featureTypeMap := make(map[string]models.FeatureType, len(featureTypes))
	for name, info := range featureTypes {
		featureTypeMap[name] = info.kind
	}

	meta := &models.PreprocessingMetadata{
		FeatureOrder:     append([]string{}, opts.FeatureNames...),
		TargetName:       opts.TargetName,
		FeatureTypes:     featureTypeMap,
		CategoryMaps:     categoryMaps,
		Normalization:    normStats,
		TargetCategories: targetCategories,
		LabelDimension:   labelDim,
	}
	if embeddingsActive {
		meta.EmbeddingDimension = embeddingDim
		meta.Embeddings = embeddings
	}

	hash := datasetHash(opts.FeatureNames, opts.TargetName, len(trainIdx), len(valIdx), len(testIdx))

	return &Dataset{
		TrainFeatures: trainFeatures,
		TrainLabels:   trainLabels,
		ValFeatures:   valFeatures,
		ValLabels:     valLabels,
		TestFeatures:  testFeatures,
		TestLabels:    testLabels,
		Metadata:      meta,
		DatasetHash:   hash,
		RecordCount:   len(rows),
	}, nil
}

// TransformInput replays a saved PreprocessingMetadata against one raw input
// row, for inference (C5) and incremental learning (C6). Category lists and
// normalization are frozen from training; unknown categorical values encode
// as the zero vector rather than failing (spec.md I3).
func TransformInput(meta *models.PreprocessingMetadata, input map[string]interface{}) ([]float64, error) {
	if meta == nil {
		return nil, apierr.Validation("preprocessing metadata is required")
	}

	embeddingLookup := make(map[string][]float64, len(meta.Embeddings))
	for _, e := range meta.Embeddings {
		embeddingLookup[e.Feature+"\x00"+e.Value] = e.Vector
	}

	var out []float64
	for _, name := range meta.FeatureOrder {
		kind := meta.FeatureTypes[name]
		raw, present := input[name]
		switch kind {
		case models.FeatureNumeric:
			if !present {
				out = append(out, 0)
				break
			}
			v, _ := toFloat(raw)
			out = append(out, v)
		case models.FeatureBoolean:
			if b, ok := raw.(bool); ok && b {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case models.FeatureCategorical:
			cats := meta.CategoryMaps[name]
			vec := make([]float64, len(cats))
			val := fmt.Sprintf("%v", raw)
			for i, c := range cats {
				if c == val {
					vec[i] = 1
					break
				}
			}
			out = append(out, vec...)
		case models.FeatureText:
			val := fmt.Sprintf("%v", raw)
			if meta.EmbeddingDimension > 0 {
				vec, ok := embeddingLookup[name+"\x00"+val]
				if !ok {
					vec = make([]float64, meta.EmbeddingDimension)
				}
				out = append(out, vec...)
			} else {
				out = append(out, textScalarFeatures(val)...)
			}
		}
	}

	if len(out) != len(meta.Normalization) {
		// Width mismatch with the stored normalization stats: the vector is
		// returned without normalization.
		return out, nil
	}
	for i, stat := range meta.Normalization {
		if stat.Std == 0 {
			continue
		}
		out[i] = (out[i] - stat.Mean) / stat.Std
	}
	return out, nil
}

// TransformLabel replays a saved PreprocessingMetadata's target encoding
// against one raw row, for C6's incremental fine-tuning: categories are
// frozen from the original training run, never refit (spec.md §4.6
// "Update").
func TransformLabel(meta *models.PreprocessingMetadata, row map[string]interface{}) []float64 {
	if meta == nil || meta.TargetName == "" {
		return nil
	}
	raw, present := row[meta.TargetName]
	if !present {
		return make([]float64, meta.LabelDimension)
	}
	if len(meta.TargetCategories) > 0 {
		vec := make([]float64, len(meta.TargetCategories))
		val := fmt.Sprintf("%v", raw)
		for i, c := range meta.TargetCategories {
			if c == val {
				vec[i] = 1
				break
			}
		}
		return vec
	}
	v, _ := toFloat(raw)
	return []float64{v}
}

// HeuristicTransform is the legacy fallback used when a version's prep.json
// is missing: numeric pass-through, boolean 0/1, string length.
func HeuristicTransform(featureNames []string, input map[string]interface{}) []float64 {
	out := make([]float64, 0, len(featureNames))
	for _, name := range featureNames {
		raw, ok := input[name]
		if !ok {
			out = append(out, 0)
			continue
		}
		switch v := raw.(type) {
		case bool:
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case string:
			out = append(out, float64(len(v)))
		default:
			f, _ := toFloat(raw)
			out = append(out, f)
		}
	}
	return out
}

func inferFeatureType(rows []Row, name string, declaredText bool, cardinalityCap int) featureTypeInfo {
	if declaredText {
		return featureTypeInfo{kind: models.FeatureText}
	}

	var first interface{}
	for _, row := range rows {
		if v, ok := row[name]; ok && v != nil {
			first = v
			break
		}
	}
	if first == nil {
		return featureTypeInfo{kind: models.FeatureNumeric}
	}

	if _, ok := first.(bool); ok {
		return featureTypeInfo{kind: models.FeatureBoolean}
	}
	if _, numeric := toFloat(first); numeric {
		if _, isString := first.(string); !isString {
			return featureTypeInfo{kind: models.FeatureNumeric}
		}
	}

	distinct := make(map[string]bool)
	for _, row := range rows {
		if v, ok := row[name]; ok && v != nil {
			distinct[fmt.Sprintf("%v", v)] = true
		}
	}
	if len(distinct) <= cardinalityCap {
		return featureTypeInfo{kind: models.FeatureCategorical, categories: distinct}
	}
	return featureTypeInfo{kind: models.FeatureText}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// textScalarFeatures is the four-deterministic-scalar fallback for text
// features when embeddings are disabled or unavailable (spec.md §4.1).
func textScalarFeatures(s string) []float64 {
	chars := float64(len([]rune(s)))
	words := float64(len(strings.Fields(s)))
	upper, digits := 0, 0
	for _, r := range s {
		if unicode.IsUpper(r) {
			upper++
		}
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return []float64{chars, words, float64(upper), float64(digits)}
}

// computeNormalization fits per-feature mean/std using gonum/stat rather
// than a hand-rolled accumulator loop, matching the teacher's reliance on
// gonum for its own moment calculations elsewhere in the pack.
func computeNormalization(features [][]float64) []models.NormalizationStats {
	if len(features) == 0 {
		return nil
	}
	dims := len(features[0])
	column := make([]float64, len(features))
	stats := make([]models.NormalizationStats, dims)
	for d := 0; d < dims; d++ {
		for i, row := range features {
			column[i] = row[d]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if std == 0 {
			std = 1
		}
		stats[d] = models.NormalizationStats{Mean: mean, Std: std}
	}
	return stats
}

func applyNormalization(features [][]float64, stats []models.NormalizationStats) {
	for _, row := range features {
		for d := range row {
			if d >= len(stats) {
				continue
			}
			row[d] = (row[d] - stats[d].Mean) / stats[d].Std
		}
	}
}

// stratifiedSplit groups rows by target (when present) and deterministically
// shuffles each group with a seeded LCG before assigning 80/10/10
// train/validation/test indices, matching the teacher's (deleted, read for
// grounding) pipelines/ML/trainer.go stratifiedSplit.
func stratifiedSplit(rows []Row, targetName string, seed int64) (train, val, test []int) {
	groups := map[string][]int{}
	if targetName == "" {
		groups["__all__"] = indexRange(len(rows))
	} else {
		for i, row := range rows {
			key := fmt.Sprintf("%v", row[targetName])
			groups[key] = append(groups[key], i)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rng := newLCG(seed)
	for _, k := range keys {
		idx := groups[k]
		shuffle(idx, rng)
		n := len(idx)
		trainEnd := int(math.Round(float64(n) * 0.8))
		valEnd := trainEnd + int(math.Round(float64(n)*0.1))
		if valEnd > n {
			valEnd = n
		}
		train = append(train, idx[:trainEnd]...)
		val = append(val, idx[trainEnd:valEnd]...)
		test = append(test, idx[valEnd:]...)
	}
	return train, val, test
}

func indexRange(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// lcg is a linear-congruential generator seeded deterministically so splits
// are reproducible given the same seed and row ordering (spec.md I-free
// invariant "determinism under seed", P1).
type lcg struct {
	state uint64
}

func newLCG(seed int64) *lcg {
	return &lcg{state: uint64(seed) ^ 0x9E3779B97F4A7C15}
}

func (g *lcg) next() uint64 {
	// Knuth's MMIX constants.
	g.state = g.state*6364136223846793005 + 1442695040888963407
	return g.state
}

func shuffle(idx []int, rng *lcg) {
	for i := len(idx) - 1; i > 0; i-- {
		j := int(rng.next() % uint64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
}

// datasetHash returns a short fingerprint derived from the feature list,
// target name, and split counts (spec.md §4.1 "Dataset hash").
func datasetHash(featureNames []string, targetName string, trainCount, valCount, testCount int) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(featureNames, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(targetName))
	h.Write([]byte(fmt.Sprintf("|%d|%d|%d", trainCount, valCount, testCount)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}
