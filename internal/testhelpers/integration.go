//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/kjstillabower/ambient-gateway/internal/cache"
	"github.com/kjstillabower/ambient-gateway/internal/model"
	"github.com/kjstillabower/ambient-gateway/internal/service"
	"github.com/kjstillabower/ambient-gateway/internal/weather"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	OllamaBaseURL string
	OllamaModel   string
	WeatherAPIURL string
	Coordinates   *service.Coordinates
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OLLAMA_BASE_URL is not set. Coordinates are optional.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		t.Skip("OLLAMA_BASE_URL not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		OllamaBaseURL: baseURL,
		OllamaModel:   os.Getenv("OLLAMA_MODEL"),
		WeatherAPIURL: os.Getenv("OPENMETEO_API_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}

	lat, latErr := strconv.ParseFloat(os.Getenv("OPENMETEO_LAT"), 64)
	lon, lonErr := strconv.ParseFloat(os.Getenv("OPENMETEO_LON"), 64)
	if latErr == nil && lonErr == nil {
		cfg.Coordinates = &service.Coordinates{Latitude: lat, Longitude: lon}
	}
	return cfg
}

// SetupIntegrationService wires a DescribeService against the live model and
// Open-Meteo. Returns the service, its outside temperature source and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.DescribeService, *service.OutsideTemperatureService, func()) {
	t.Helper()
	gen, err := model.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, 2*time.Minute, model.Options{})
	if err != nil {
		t.Fatalf("NewOllamaClient() error = %v", err)
	}
	weatherClient, err := weather.NewOpenMeteoClient(cfg.WeatherAPIURL, 10*time.Second, weather.BreakerSettings{})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	var store cache.Cache
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour)
		if err == nil && mc.Ping() == nil {
			store = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}
	if store == nil {
		store = cache.NewInMemoryCache()
	}

	outside := service.NewOutsideTemperatureService(weatherClient, store, cfg.Coordinates, time.Minute)
	return service.NewDescribeService(nil, outside, gen), outside, cleanup
}
