package models

import "time"

// ABTestSide results is a per-side running aggregate.
type ABTestSideResult struct {
	Samples int                `json:"samples"`
	Metrics map[string]float64 `json:"metrics"`
}

// ABTest is one active or finished A/B comparison between two versions.
type ABTest struct {
	ID            string           `json:"id"`
	ModelID       string           `json:"model_id"`
	VersionA      string           `json:"version_a"`
	VersionB      string           `json:"version_b"`
	TrafficSplitB int              `json:"traffic_split_b"` // percent routed to B
	MinSamples    int              `json:"min_samples"`
	ResultA       ABTestSideResult `json:"result_a"`
	ResultB       ABTestSideResult `json:"result_b"`
	Winner        string           `json:"winner,omitempty"`
	Confidence    float64          `json:"confidence,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	StoppedAt     *time.Time       `json:"stopped_at,omitempty"`
}

// ABTestCreateRequest is the payload for POST /ai/ab-tests.
type ABTestCreateRequest struct {
	ModelID       string `json:"model_id"`
	VersionA      string `json:"version_a"`
	VersionB      string `json:"version_b"`
	TrafficSplitB int    `json:"traffic_split_b"`
	MinSamples    int    `json:"min_samples"`
}
