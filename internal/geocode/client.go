package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FallbackArea is returned when the provider cannot resolve coordinates in
// time. Location-dependent operations degrade to this text instead of
// failing.
const FallbackArea = "Area name not found"

// Client reverse-geocodes coordinates against a Nominatim-style provider.
// Every lookup is bounded by the configured timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// ReverseArea resolves coordinates to a locality string.
func (c *Client) ReverseArea(ctx context.Context, lat, lng float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create reverse request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var payload reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode reverse response: %w", err)
	}
	if payload.DisplayName == "" {
		return "", fmt.Errorf("geocoder returned no locality")
	}

	return payload.DisplayName, nil
}

// ReverseAreaOrFallback absorbs lookup failures: a timeout or provider error
// yields the degraded placeholder instead of failing the caller.
func (c *Client) ReverseAreaOrFallback(ctx context.Context, lat, lng float64, logger *slog.Logger) string {
	area, err := c.ReverseArea(ctx, lat, lng)
	if err != nil {
		logger.Warn("reverse geocode degraded", "error", err, "lat", lat, "lng", lng)
		return FallbackArea
	}
	return area
}
