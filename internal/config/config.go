package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds gateway configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort   string
	MaxBodyBytes int64

	RequestTimeout                time.Duration
	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OllamaBaseURL     string
	OllamaModel       string
	OllamaTimeout     time.Duration
	OllamaNumPredict  int
	OllamaTemperature float64

	ModelBreakerEnabled          bool
	ModelBreakerFailureThreshold int
	ModelBreakerSuccessThreshold int
	ModelBreakerTimeout          time.Duration

	WeatherAPIURL  string
	WeatherTimeout time.Duration
	// Latitude and Longitude are both nil when outside lookups are disabled.
	Latitude                  *float64
	Longitude                 *float64
	OutsideTempTTL            time.Duration
	WeatherWarmSchedule       string
	WeatherBreakerFailures    int
	WeatherBreakerOpenTimeout time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	CacheStaleRetention   time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	// RateLimitRPS caps /describe; zero (the default) disables the limiter.
	RateLimitRPS   int
	RateLimitBurst int

	DegradedWindow      time.Duration
	DegradedFallbackPct int

	StrictBounds bool
}

// HasCoordinates reports whether outside temperature lookups are enabled.
func (c *Config) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

type fileConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Model struct {
		BaseURL        string   `yaml:"base_url"`
		Name           string   `yaml:"name"`
		Timeout        string   `yaml:"timeout"`
		NumPredict     int      `yaml:"num_predict"`
		Temperature    *float64 `yaml:"temperature"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"model"`

	Weather struct {
		APIURL         string   `yaml:"api_url"`
		Timeout        string   `yaml:"timeout"`
		Latitude       *float64 `yaml:"latitude"`
		Longitude      *float64 `yaml:"longitude"`
		CacheTTL       string   `yaml:"cache_ttl"`
		WarmSchedule   string   `yaml:"warm_schedule"`
		CircuitBreaker struct {
			FailureThreshold *int   `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather"`

	Cache struct {
		Backend        string `yaml:"backend"`
		StaleRetention string `yaml:"stale_retention"`
		Memcached      struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Lifecycle struct {
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedFallbackPct int    `yaml:"degraded_fallback_pct"`
	} `yaml:"lifecycle"`

	Validation struct {
		StrictBounds bool `yaml:"strict_bounds"`
	} `yaml:"validation"`
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and applies
// environment overrides. A missing file means all defaults, so the gateway runs
// with a local default model and outside weather disabled. Call from project root.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")

	var fc fileConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(&fc)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8000"
	}
	cfg.MaxBodyBytes = fc.Server.MaxBodyBytes
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 10
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 70*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 65*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OllamaBaseURL = strings.TrimSpace(fc.Model.BaseURL)
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://127.0.0.1:11434"
	}
	cfg.OllamaModel = strings.TrimSpace(fc.Model.Name)
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "mistral"
	}
	cfg.OllamaTimeout = parseDurationOrZero(fc.Model.Timeout, 60*time.Second)
	cfg.OllamaNumPredict = fc.Model.NumPredict
	if cfg.OllamaNumPredict <= 0 {
		cfg.OllamaNumPredict = 64
	}
	cfg.OllamaTemperature = 0.7
	if fc.Model.Temperature != nil {
		cfg.OllamaTemperature = *fc.Model.Temperature
	}

	cfg.ModelBreakerEnabled = true
	if fc.Model.CircuitBreaker.Enabled != nil {
		cfg.ModelBreakerEnabled = *fc.Model.CircuitBreaker.Enabled
	}
	cfg.ModelBreakerFailureThreshold = fc.Model.CircuitBreaker.FailureThreshold
	if cfg.ModelBreakerFailureThreshold <= 0 {
		cfg.ModelBreakerFailureThreshold = 5
	}
	cfg.ModelBreakerSuccessThreshold = fc.Model.CircuitBreaker.SuccessThreshold
	if cfg.ModelBreakerSuccessThreshold <= 0 {
		cfg.ModelBreakerSuccessThreshold = 1
	}
	cfg.ModelBreakerTimeout = parseDuration(fc.Model.CircuitBreaker.Timeout, 30*time.Second)

	cfg.WeatherAPIURL = strings.TrimSpace(fc.Weather.APIURL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.WeatherTimeout = parseDurationOrZero(fc.Weather.Timeout, 5*time.Second)
	cfg.Latitude = fc.Weather.Latitude
	cfg.Longitude = fc.Weather.Longitude
	cfg.OutsideTempTTL = parseDuration(fc.Weather.CacheTTL, 5*time.Minute)
	cfg.WeatherWarmSchedule = strings.TrimSpace(fc.Weather.WarmSchedule)
	cfg.WeatherBreakerFailures = 3
	if fc.Weather.CircuitBreaker.FailureThreshold != nil {
		cfg.WeatherBreakerFailures = *fc.Weather.CircuitBreaker.FailureThreshold
	}
	cfg.WeatherBreakerOpenTimeout = parseDuration(fc.Weather.CircuitBreaker.OpenTimeout, time.Minute)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheStaleRetention = parseDuration(fc.Cache.StaleRetention, 24*time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2 * cfg.RateLimitRPS
	}

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 5*time.Minute)
	cfg.DegradedFallbackPct = fc.Lifecycle.DegradedFallbackPct
	if cfg.DegradedFallbackPct <= 0 {
		cfg.DegradedFallbackPct = 50
	}

	cfg.StrictBounds = fc.Validation.StrictBounds
	return cfg
}

// applyEnv applies environment overrides on top of file values.
func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_MODEL")); v != "" {
		cfg.OllamaModel = v
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_BACKEND")); v != "" {
		cfg.CacheBackend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENMETEO_LAT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OPENMETEO_LAT must be a number, got %q", v)
		}
		cfg.Latitude = &f
	}
	if v := strings.TrimSpace(os.Getenv("OPENMETEO_LON")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OPENMETEO_LON must be a number, got %q", v)
		}
		cfg.Longitude = &f
	}
	if v := strings.TrimSpace(os.Getenv("OUTSIDE_TEMP_CACHE_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("OUTSIDE_TEMP_CACHE_SECONDS must be a positive integer, got %q", v)
		}
		cfg.OutsideTempTTL = time.Duration(n) * time.Second
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. It raises RequestTimeout above the
// sum of the outbound timeouts so the fallback path always has time to run.
func validate(cfg *Config) error {
	if cfg.OllamaTimeout <= 0 {
		return fmt.Errorf("model.timeout must be positive")
	}
	if cfg.WeatherTimeout <= 0 {
		return fmt.Errorf("weather.timeout must be positive")
	}
	if cfg.OllamaTemperature < 0 {
		return fmt.Errorf("model.temperature must not be negative, got %v", cfg.OllamaTemperature)
	}
	if u, err := url.Parse(cfg.OllamaBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("model.base_url must be an absolute URL, got %q", cfg.OllamaBaseURL)
	}
	if (cfg.Latitude == nil) != (cfg.Longitude == nil) {
		return fmt.Errorf("weather latitude and longitude must be set together")
	}
	if cfg.Latitude != nil {
		if *cfg.Latitude < -90 || *cfg.Latitude > 90 {
			return fmt.Errorf("weather latitude must be within [-90, 90], got %v", *cfg.Latitude)
		}
		if *cfg.Longitude < -180 || *cfg.Longitude > 180 {
			return fmt.Errorf("weather longitude must be within [-180, 180], got %v", *cfg.Longitude)
		}
	}
	if cfg.WeatherBreakerFailures < 0 {
		return fmt.Errorf("weather.circuit_breaker.failure_threshold must not be negative")
	}
	if cfg.WeatherWarmSchedule != "" {
		if _, err := cron.ParseStandard(cfg.WeatherWarmSchedule); err != nil {
			return fmt.Errorf("weather.warm_schedule: %w", err)
		}
	}
	if cfg.DegradedFallbackPct > 100 {
		return fmt.Errorf("lifecycle.degraded_fallback_pct must be within 1..100, got %d", cfg.DegradedFallbackPct)
	}
	if minimum := cfg.OllamaTimeout + cfg.WeatherTimeout; cfg.RequestTimeout <= minimum {
		cfg.RequestTimeout = minimum + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
