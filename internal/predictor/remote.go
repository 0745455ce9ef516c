package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rebound-trader/internal/model"
)

// RemotePredictor calls an external scoring service over HTTP. The retrain
// pipeline serves the freshest model there, so the engine never restarts to
// pick up new weights.
type RemotePredictor struct {
	url    string
	client *http.Client
}

// NewRemotePredictor creates a remote predictor for the given endpoint.
func NewRemotePredictor(url string, timeout time.Duration) *RemotePredictor {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RemotePredictor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	CrashRate   float64 `json:"crash_rate"`
	VolumeSpike float64 `json:"volume_spike"`
	PriceVsPrev float64 `json:"price_vs_prev"`
	Hour        float64 `json:"hour"`
}

type predictResponse struct {
	Probability float64 `json:"probability"`
}

func (r *RemotePredictor) Predict(ctx context.Context, fv model.FeatureVector) (float64, error) {
	body, err := json.Marshal(predictRequest{
		CrashRate:   fv.CrashRate,
		VolumeSpike: fv.VolumeSpike,
		PriceVsPrev: fv.PriceVsPrev,
		Hour:        fv.Hour,
	})
	if err != nil {
		return 0, fmt.Errorf("predictor: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("predictor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return clamp(out.Probability), nil
}

var _ Predictor = (*RemotePredictor)(nil)
