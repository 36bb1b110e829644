package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"indicator_service/internal/domain/model"
)

// HTTPEstimator delegates predictions to the external ML service.
type HTTPEstimator struct {
	endpoint string
	modelID  string
	client   *http.Client
}

func NewHTTPEstimator(baseURL, modelID string, timeout time.Duration) *HTTPEstimator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEstimator{
		endpoint: fmt.Sprintf("%s/predict", baseURL),
		modelID:  modelID,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type PredictRequest struct {
	Model     string              `json:"model"`
	Indicator model.IndicatorKey  `json:"indicator"`
	Location  *model.CityLocation `json:"location,omitempty"`
	Data      model.ExistingData  `json:"data"`
}

type PredictResponse struct {
	Value      *float64 `json:"value"`
	Confidence float64  `json:"confidence"`
}

// Estimate posts the request to /predict. Any failure of the remote service is
// reported as an unavailable estimate so the chain moves on.
func (c *HTTPEstimator) Estimate(ctx context.Context, r model.EstimateRequest) (float64, float64, error) {
	body, err := json.Marshal(PredictRequest{
		Model:     c.modelID,
		Indicator: r.Indicator,
		Location:  r.Location,
		Data:      r.Data,
	})
	if err != nil {
		return 0, 0, model.EstimateUnavailable(fmt.Sprintf("failed to marshal ML request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return 0, 0, model.EstimateUnavailable(fmt.Sprintf("failed to create ML request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, model.EstimateUnavailable(fmt.Sprintf("ML service request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, model.EstimateUnavailable(fmt.Sprintf("ML service returned status: %d", resp.StatusCode))
	}

	var mlResp PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&mlResp); err != nil {
		return 0, 0, model.EstimateUnavailable(fmt.Sprintf("failed to decode ML response: %v", err))
	}
	if mlResp.Value == nil {
		return 0, 0, model.EstimateUnavailable("ML service had no prediction")
	}

	// The service reports confidence on its own scale; the base caps it.
	return *mlResp.Value, r.BaseConfidence * clamp01(mlResp.Confidence), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
