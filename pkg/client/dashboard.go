// Package client provides an HTTP client for the junctioncast dashboard API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HatiCode/junctioncast/pkg/httpx"
	"github.com/HatiCode/junctioncast/pkg/prediction"
)

// DashboardClient talks to a running dashboard over HTTP.
// It is safe for concurrent use by multiple goroutines.
type DashboardClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDashboardClient creates a client with a 5 second request timeout.
// The baseURL should include the scheme and host (e.g., "http://localhost:8080").
func NewDashboardClient(baseURL string) *DashboardClient {
	return NewDashboardClientWithTimeout(baseURL, 5*time.Second)
}

// NewDashboardClientWithTimeout creates a client with a custom timeout.
func NewDashboardClientWithTimeout(baseURL string, timeout time.Duration) *DashboardClient {
	return &DashboardClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Predict asks for the traffic prediction at junction on date (YYYY-MM-DD)
// at clock (HH:MM).
func (c *DashboardClient) Predict(ctx context.Context, junction int, date, clock string) (*prediction.Result, error) {
	query := url.Values{}
	query.Set("junction", strconv.Itoa(junction))
	query.Set("date", date)
	query.Set("time", clock)

	var result prediction.Result
	if err := c.get(ctx, "/api/predict", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type junctionsResponse struct {
	Junctions []int `json:"junctions"`
}

// Junctions lists the junction ids the model was trained on.
func (c *DashboardClient) Junctions(ctx context.Context) ([]int, error) {
	var resp junctionsResponse
	if err := c.get(ctx, "/api/junctions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Junctions, nil
}

func (c *DashboardClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr httpx.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s: unexpected status code: %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
