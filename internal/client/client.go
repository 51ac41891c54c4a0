package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/pws-dashboard/internal/normalize"
	"github.com/kjstillabower/pws-dashboard/internal/observability"
)

// PWSClient reads raw observations for one station from the vendor API.
type PWSClient interface {
	StationID() string
	CurrentObservation(ctx context.Context) (normalize.Record, error)
	HistoryDay(ctx context.Context, day time.Time) ([]normalize.Record, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrStationNotFound = errors.New("station not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrNoObservations  = errors.New("no observations returned")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

const (
	currentPath = "/pws/observations/current"
	historyPath = "/pws/history/all"

	endpointCurrent = "current"
	endpointHistory = "history"
)

// Options tunes the vendor client. Zero values fall back to defaults.
type Options struct {
	Timeout    time.Duration
	Limiter    *rate.Limiter             // paces outbound calls; nil disables pacing
	Breaker    *gobreaker.CircuitBreaker // nil disables the breaker
	HTTPClient *http.Client
}

// WeatherCompanyClient talks to the api.weather.com PWS endpoints.
type WeatherCompanyClient struct {
	apiKey    string
	stationID string
	baseURL   string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

type observationsResponse struct {
	Observations []normalize.Record `json:"observations"`
}

// NewWeatherCompanyClient validates credentials and returns a client for one station.
func NewWeatherCompanyClient(apiKey, stationID, baseURL string, opts Options) (*WeatherCompanyClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if strings.TrimSpace(stationID) == "" {
		return nil, fmt.Errorf("%w: station id is required", ErrStationNotFound)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &WeatherCompanyClient{
		apiKey:    apiKey,
		stationID: stationID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   opts.Timeout,
		client:    httpClient,
		limiter:   opts.Limiter,
		breaker:   opts.Breaker,
	}, nil
}

// StationID returns the station the client was built for.
func (c *WeatherCompanyClient) StationID() string {
	return c.stationID
}

// CurrentObservation fetches the latest observation for the station.
func (c *WeatherCompanyClient) CurrentObservation(ctx context.Context) (normalize.Record, error) {
	params := c.baseParams()
	resp, err := c.call(ctx, endpointCurrent, currentPath, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Observations) == 0 || resp.Observations[0] == nil {
		return nil, ErrNoObservations
	}
	return resp.Observations[0], nil
}

// HistoryDay fetches every history row the vendor holds for the UTC calendar day containing day.
func (c *WeatherCompanyClient) HistoryDay(ctx context.Context, day time.Time) ([]normalize.Record, error) {
	params := c.baseParams()
	params.Set("date", day.UTC().Format("20060102"))
	params.Set("numericPrecision", "decimal")
	resp, err := c.call(ctx, endpointHistory, historyPath, params)
	if err != nil {
		return nil, err
	}
	return resp.Observations, nil
}

func (c *WeatherCompanyClient) baseParams() url.Values {
	params := url.Values{}
	params.Set("stationId", c.stationID)
	params.Set("format", "json")
	params.Set("units", "m")
	params.Set("apiKey", c.apiKey)
	return params
}

// call runs one request through the pacing limiter and, when configured, the breaker.
func (c *WeatherCompanyClient) call(ctx context.Context, endpoint, path string, params url.Values) (observationsResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return observationsResponse{}, fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, path, params)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.callAPI(ctx, endpoint, path, params)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return observationsResponse{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return observationsResponse{}, err
	}
	return out.(observationsResponse), nil
}

func (c *WeatherCompanyClient) callAPI(ctx context.Context, endpoint, path string, params url.Values) (observationsResponse, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return observationsResponse{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return observationsResponse{}, fmt.Errorf("request timeout: %w", err)
		}
		return observationsResponse{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return observationsResponse{}, err
	}
	// The vendor answers 204 for a day with no rows.
	if resp.StatusCode == http.StatusNoContent {
		return observationsResponse{}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return observationsResponse{}, fmt.Errorf("read response body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return observationsResponse{}, nil
	}

	var out observationsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return observationsResponse{}, fmt.Errorf("parse response: %w", err)
	}
	return out, nil
}

func (c *WeatherCompanyClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d", ErrStationNotFound, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
