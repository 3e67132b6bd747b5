package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideVars = []string{
	"ENV_NAME", "SERVER_PORT", "OLLAMA_BASE_URL", "OLLAMA_MODEL", "CACHE_BACKEND",
	"MEMCACHED_ADDRS", "OPENMETEO_LAT", "OPENMETEO_LON", "OUTSIDE_TEMP_CACHE_SECONDS",
}

// isolate runs the test from an empty temp dir with every override variable unset.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range overrideVars {
		unsetEnv(t, key)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	saved, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, saved)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "8000" {
		t.Errorf("ServerPort = %q, want 8000", cfg.ServerPort)
	}
	if cfg.OllamaBaseURL != "http://127.0.0.1:11434" || cfg.OllamaModel != "mistral" {
		t.Errorf("Ollama = (%q, %q), want local mistral", cfg.OllamaBaseURL, cfg.OllamaModel)
	}
	if cfg.OutsideTempTTL != 5*time.Minute {
		t.Errorf("OutsideTempTTL = %v, want 5m", cfg.OutsideTempTTL)
	}
	if cfg.HasCoordinates() {
		t.Error("HasCoordinates() = true, want false without latitude/longitude")
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.MaxBodyBytes != 4096 {
		t.Errorf("MaxBodyBytes = %d, want 4096", cfg.MaxBodyBytes)
	}
	if !cfg.ModelBreakerEnabled {
		t.Error("ModelBreakerEnabled = false, want true by default")
	}
	if cfg.StrictBounds {
		t.Error("StrictBounds = true, want false by default")
	}
	if cfg.OllamaTemperature != 0.7 {
		t.Errorf("OllamaTemperature = %v, want 0.7 default", cfg.OllamaTemperature)
	}
	if cfg.RateLimitRPS != 0 {
		t.Errorf("RateLimitRPS = %d, want 0 (limiter disabled) by default", cfg.RateLimitRPS)
	}
	if cfg.RequestTimeout <= cfg.OllamaTimeout+cfg.WeatherTimeout {
		t.Errorf("RequestTimeout = %v, want > model+weather timeouts", cfg.RequestTimeout)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, `
server:
  port: "9090"
  max_body_bytes: 2048
model:
  base_url: "http://ollama:11434"
  name: "llama3"
  timeout: "20s"
  num_predict: 48
  circuit_breaker:
    enabled: false
weather:
  latitude: 52.52
  longitude: 13.405
  cache_ttl: "2m"
  warm_schedule: "*/5 * * * *"
  circuit_breaker:
    failure_threshold: 0
cache:
  backend: "memcached"
  memcached:
    addrs: "mc1:11211,mc2:11211"
validation:
  strict_bounds: true
lifecycle:
  degraded_window: "60s"
  degraded_fallback_pct: 25
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" || cfg.MaxBodyBytes != 2048 {
		t.Errorf("server = (%q, %d), want (9090, 2048)", cfg.ServerPort, cfg.MaxBodyBytes)
	}
	if cfg.OllamaModel != "llama3" || cfg.OllamaTimeout != 20*time.Second || cfg.OllamaNumPredict != 48 {
		t.Errorf("model = (%q, %v, %d)", cfg.OllamaModel, cfg.OllamaTimeout, cfg.OllamaNumPredict)
	}
	if cfg.ModelBreakerEnabled {
		t.Error("ModelBreakerEnabled = true, want false")
	}
	if !cfg.HasCoordinates() || *cfg.Latitude != 52.52 || *cfg.Longitude != 13.405 {
		t.Errorf("coordinates = (%v, %v), want (52.52, 13.405)", cfg.Latitude, cfg.Longitude)
	}
	if cfg.OutsideTempTTL != 2*time.Minute {
		t.Errorf("OutsideTempTTL = %v, want 2m", cfg.OutsideTempTTL)
	}
	if cfg.WeatherWarmSchedule != "*/5 * * * *" {
		t.Errorf("WeatherWarmSchedule = %q", cfg.WeatherWarmSchedule)
	}
	if cfg.WeatherBreakerFailures != 0 {
		t.Errorf("WeatherBreakerFailures = %d, want 0 (disabled)", cfg.WeatherBreakerFailures)
	}
	if cfg.CacheBackend != "memcached" || cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("cache = (%q, %q)", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
	if !cfg.StrictBounds {
		t.Error("StrictBounds = false, want true")
	}
	if cfg.DegradedWindow != time.Minute || cfg.DegradedFallbackPct != 25 {
		t.Errorf("degraded = (%v, %d), want (1m, 25)", cfg.DegradedWindow, cfg.DegradedFallbackPct)
	}
}

// TestLoad_ZeroTemperature verifies temperature 0 is kept for deterministic output.
func TestLoad_ZeroTemperature(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, "model:\n  temperature: 0\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OllamaTemperature != 0 {
		t.Errorf("OllamaTemperature = %v, want 0", cfg.OllamaTemperature)
	}
}

func TestLoad_RateLimitOptIn(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, "reliability:\n  rate_limit_rps: 3\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RateLimitRPS != 3 || cfg.RateLimitBurst != 6 {
		t.Errorf("rate limit = (%d, %d), want (3, 6)", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, `
server:
  port: "9090"
model:
  name: "llama3"
`)
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")
	t.Setenv("OLLAMA_MODEL", "phi3")
	t.Setenv("OPENMETEO_LAT", "-33.87")
	t.Setenv("OPENMETEO_LON", "151.21")
	t.Setenv("OUTSIDE_TEMP_CACHE_SECONDS", "120")
	t.Setenv("CACHE_BACKEND", "Memcached")
	t.Setenv("MEMCACHED_ADDRS", "cache:11211")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Errorf("ServerPort = %q, want 7000", cfg.ServerPort)
	}
	if cfg.OllamaBaseURL != "http://gpu-box:11434" || cfg.OllamaModel != "phi3" {
		t.Errorf("Ollama = (%q, %q)", cfg.OllamaBaseURL, cfg.OllamaModel)
	}
	if !cfg.HasCoordinates() || *cfg.Latitude != -33.87 || *cfg.Longitude != 151.21 {
		t.Errorf("coordinates = (%v, %v)", cfg.Latitude, cfg.Longitude)
	}
	if cfg.OutsideTempTTL != 2*time.Minute {
		t.Errorf("OutsideTempTTL = %v, want 2m", cfg.OutsideTempTTL)
	}
	if cfg.CacheBackend != "memcached" || cfg.MemcachedAddrs != "cache:11211" {
		t.Errorf("cache = (%q, %q)", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
}

// TestLoad_DotEnv verifies .env fills unset variables but never overrides the environment.
func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	dotenv := "OLLAMA_MODEL=gemma\nSERVER_PORT=6000\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("SERVER_PORT", "7000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OllamaModel != "gemma" {
		t.Errorf("OllamaModel = %q, want gemma from .env", cfg.OllamaModel)
	}
	if cfg.ServerPort != "7000" {
		t.Errorf("ServerPort = %q, want 7000 from environment", cfg.ServerPort)
	}
}

func TestLoad_EnvNameSelectsFile(t *testing.T) {
	dir := isolate(t)
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "prod.yaml"), []byte("server:\n  port: \"80\"\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("ENV_NAME", "prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "80" {
		t.Errorf("ServerPort = %q, want 80 from config/prod.yaml", cfg.ServerPort)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, `
model:
  timeout: "soon"
weather:
  cache_ttl: ""
shutdown:
  timeout: "-5s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OllamaTimeout != 60*time.Second {
		t.Errorf("OllamaTimeout = %v, want 60s default", cfg.OllamaTimeout)
	}
	if cfg.OutsideTempTTL != 5*time.Minute {
		t.Errorf("OutsideTempTTL = %v, want 5m default", cfg.OutsideTempTTL)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s default", cfg.ShutdownTimeout)
	}
}

// TestLoad_RaisesRequestTimeout verifies the request deadline always leaves room
// for both outbound calls to time out and the fallback to be written.
func TestLoad_RaisesRequestTimeout(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, `
request:
  timeout: "5s"
model:
  timeout: "10s"
weather:
  timeout: "2s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 13*time.Second {
		t.Errorf("RequestTimeout = %v, want 13s", cfg.RequestTimeout)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantSub string
	}{
		{
			name:    "zero model timeout",
			yaml:    "model:\n  timeout: \"0s\"\n",
			wantSub: "model.timeout",
		},
		{
			name:    "zero weather timeout",
			yaml:    "weather:\n  timeout: \"0s\"\n",
			wantSub: "weather.timeout",
		},
		{
			name:    "relative model URL",
			yaml:    "model:\n  base_url: \"localhost:11434\"\n",
			wantSub: "model.base_url",
		},
		{
			name:    "latitude without longitude",
			yaml:    "weather:\n  latitude: 10\n",
			wantSub: "set together",
		},
		{
			name:    "latitude out of range",
			env:     map[string]string{"OPENMETEO_LAT": "91", "OPENMETEO_LON": "0"},
			wantSub: "latitude must be within",
		},
		{
			name:    "longitude out of range",
			yaml:    "weather:\n  latitude: 0\n  longitude: -181\n",
			wantSub: "longitude must be within",
		},
		{
			name:    "non-numeric latitude",
			env:     map[string]string{"OPENMETEO_LAT": "north", "OPENMETEO_LON": "0"},
			wantSub: "OPENMETEO_LAT",
		},
		{
			name:    "bad cache seconds",
			env:     map[string]string{"OUTSIDE_TEMP_CACHE_SECONDS": "0"},
			wantSub: "OUTSIDE_TEMP_CACHE_SECONDS",
		},
		{
			name:    "negative temperature",
			yaml:    "model:\n  temperature: -1\n",
			wantSub: "model.temperature",
		},
		{
			name:    "unknown cache backend",
			env:     map[string]string{"CACHE_BACKEND": "redis"},
			wantSub: "cache.backend",
		},
		{
			name:    "bad warm schedule",
			yaml:    "weather:\n  warm_schedule: \"every five minutes\"\n",
			wantSub: "warm_schedule",
		},
		{
			name:    "fallback pct above 100",
			yaml:    "lifecycle:\n  degraded_fallback_pct: 150\n",
			wantSub: "degraded_fallback_pct",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			if tt.yaml != "" {
				writeEnvFile(t, dir, tt.yaml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error, got config %+v", cfg)
			}
			if cfg != nil {
				t.Errorf("Load() expected nil config on error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, "server: [unclosed\n")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
