package model

import "time"

// CrashCandidate is a transient record produced by the crash scan.
// It is never persisted; one is built per qualifying symbol per scan tick.
type CrashCandidate struct {
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`       // current price in won
	PrevClose  int64     `json:"prev_close"`  // reference price for the crash rate
	CrashRate  float64   `json:"crash_rate"`  // percent change vs reference, negative on a drop
	ModelScore float64   `json:"model_score"` // rebound probability in [0,1]
	ScannedAt  time.Time `json:"scanned_at"`

	// Raw inputs carried along for the feature vector.
	Volume      int64   `json:"volume"`
	VolumeSpike float64 `json:"volume_spike"` // volume vs 20-day average
}

// FeatureVector is the predictor input assembled from a candidate.
// Order matters: it mirrors the layout the rebound model was trained on.
type FeatureVector struct {
	CrashRate   float64
	VolumeSpike float64
	PriceVsPrev float64 // current price / previous close
	Hour        float64 // KST hour of day, normalized to [0,1] over the session
}

// Floats returns the vector as a flat float32 slice for model backends.
func (f FeatureVector) Floats() []float32 {
	return []float32{
		float32(f.CrashRate),
		float32(f.VolumeSpike),
		float32(f.PriceVsPrev),
		float32(f.Hour),
	}
}
