//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/pws-dashboard/internal/client"
	"github.com/kjstillabower/pws-dashboard/internal/service"
)

const defaultAPIURL = "https://api.weather.com/v2"

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey    string
	StationID string
	APIURL    string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WU_API_KEY or WU_STATION_ID is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WU_API_KEY")
	stationID := os.Getenv("WU_STATION_ID")
	if apiKey == "" || stationID == "" {
		t.Skip("WU_API_KEY or WU_STATION_ID not set, skipping integration test")
	}

	apiURL := os.Getenv("WU_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return IntegrationTestConfig{APIKey: apiKey, StationID: stationID, APIURL: apiURL}
}

// SetupIntegrationClient creates a vendor client paced to stay well inside the free quota.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.WeatherCompanyClient {
	t.Helper()
	cl, err := client.NewWeatherCompanyClient(cfg.APIKey, cfg.StationID, cfg.APIURL, client.Options{
		Timeout: 10 * time.Second,
		Limiter: rate.NewLimiter(rate.Limit(1), 2),
	})
	if err != nil {
		t.Fatalf("NewWeatherCompanyClient() error = %v", err)
	}
	return cl
}

// SetupIntegrationService creates a live gateway for integration tests.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) *service.WeatherService {
	t.Helper()
	src := service.NewLiveSource(SetupIntegrationClient(t, cfg), nil)
	return service.NewWeatherService(src, service.DefaultTTL)
}
