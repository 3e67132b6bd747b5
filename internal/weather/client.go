// Package weather fetches the current outside temperature for a fixed
// coordinate from Open-Meteo. It knows nothing about caching; see
// service.OutsideTemperatureService for freshness and fallback rules.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/ambient-gateway/internal/observability"
)

// Client returns the current temperature in °C at (lat, lon).
type Client interface {
	CurrentTemperature(ctx context.Context, lat, lon float64) (float64, error)
}

var (
	ErrUpstreamFailure   = errors.New("weather upstream failure")
	ErrMalformedResponse = errors.New("weather response malformed")
	ErrCircuitOpen       = errors.New("weather circuit breaker open")
)

const (
	DefaultAPIURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultTimeout = 5 * time.Second

	maxResponseBytes = 64 << 10
)

// BreakerSettings configures the circuit breaker around Open-Meteo calls.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Zero disables the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
	// OnStateChange is called on every transition; used for metrics.
	OnStateChange func(name string, from, to gobreaker.State)
}

// OpenMeteoClient implements Client against the Open-Meteo forecast API. No API key is needed.
type OpenMeteoClient struct {
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewOpenMeteoClient returns a client for apiURL (DefaultAPIURL when empty).
func NewOpenMeteoClient(apiURL string, timeout time.Duration, bs BreakerSettings) (*OpenMeteoClient, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid weather API URL %q", apiURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &OpenMeteoClient{
		apiURL:  apiURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
	if bs.ConsecutiveFailures > 0 {
		openTimeout := bs.OpenTimeout
		if openTimeout <= 0 {
			openTimeout = time.Minute
		}
		threshold := bs.ConsecutiveFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openmeteo",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: bs.OnStateChange,
		})
	}
	return c, nil
}

type forecastResponse struct {
	Current *struct {
		Time          string   `json:"time"`
		Temperature2m *float64 `json:"temperature_2m"`
	} `json:"current"`
}

// CurrentTemperature makes one request bounded by the client timeout.
func (c *OpenMeteoClient) CurrentTemperature(ctx context.Context, lat, lon float64) (float64, error) {
	if c.breaker == nil {
		return c.fetch(ctx, lat, lon)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, lat, lon)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.WeatherAPICallsTotal.WithLabelValues("circuit_open").Inc()
			return 0, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return 0, err
	}
	temp, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected result type %T", ErrMalformedResponse, result)
	}
	return temp, nil
}

func (c *OpenMeteoClient) fetch(ctx context.Context, lat, lon float64) (float64, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("request timeout: %w", err)
		}
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := observability.StatusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	var payload forecastResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	if payload.Current == nil || payload.Current.Temperature2m == nil {
		return 0, fmt.Errorf("%w: missing current.temperature_2m", ErrMalformedResponse)
	}
	return *payload.Current.Temperature2m, nil
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("current", "temperature_2m")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}
