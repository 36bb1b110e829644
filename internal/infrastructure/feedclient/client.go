// Package feedclient reads indicator values from third-party statistics APIs
// that answer GET /indicators/{key}?lat=&lon= with {"value": number|null}.
package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"indicator_service/internal/domain/model"
)

type Client struct {
	id      string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// New returns a client for one feed. A non-positive perSecond disables
// client-side throttling.
func New(id, baseURL, apiKey string, timeout time.Duration, perSecond float64) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Client{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type feedResponse struct {
	Value *float64 `json:"value"`
}

func (c *Client) Fetch(ctx context.Context, indicator model.IndicatorKey, loc *model.CityLocation) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("feed rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s/indicators/%s", c.baseURL, url.PathEscape(string(indicator)))
	if loc != nil {
		q := url.Values{}
		q.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, model.SourceUnavailable(c.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, model.SourceUnavailable(c.id, fmt.Errorf("feed returned status: %d", resp.StatusCode))
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, model.SourceUnavailable(c.id, fmt.Errorf("failed to decode feed response: %w", err))
	}
	if body.Value == nil {
		return 0, model.SourceUnavailable(c.id, fmt.Errorf("no value for %s", indicator))
	}
	return *body.Value, nil
}
