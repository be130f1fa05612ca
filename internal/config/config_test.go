package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"ENV_NAME", "CACHE_BACKEND", "MEMCACHED_ADDRS", "VALKEY_ADDR", "WEATHER_API_KEY",
	"IPINFO_TOKEN", "IPGEOLOCATION_API_KEY", "SQLITE_PATH",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

const minimalEnvYAML = `
server:
  port: "9090"
`

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.Agmarknet.Timeout != 45*time.Second || cfg.IPInfo.Timeout != 5*time.Second || cfg.Nominatim.Timeout != 10*time.Second {
		t.Errorf("upstream timeouts = %v/%v/%v", cfg.Agmarknet.Timeout, cfg.IPInfo.Timeout, cfg.Nominatim.Timeout)
	}
	if cfg.Weather.Timeout != 15*time.Second || cfg.Soil.Timeout != 15*time.Second {
		t.Errorf("weather/soil timeouts = %v/%v", cfg.Weather.Timeout, cfg.Soil.Timeout)
	}
	if cfg.RequestTimeout <= cfg.Agmarknet.Timeout {
		t.Errorf("RequestTimeout = %v, want above the agmarknet timeout", cfg.RequestTimeout)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.PriceTTL != 30*time.Minute || cfg.SoilTTL != 24*time.Hour {
		t.Errorf("PriceTTL = %v, SoilTTL = %v", cfg.PriceTTL, cfg.SoilTTL)
	}
	if !cfg.CircuitBreakerEnabled {
		t.Error("circuit breaker should default to enabled")
	}
	if cfg.WeatherAPIKey != "" {
		t.Errorf("WeatherAPIKey = %q, want empty", cfg.WeatherAPIKey)
	}
	if cfg.SQLitePath == "" {
		t.Error("SQLitePath has no default")
	}
}

func TestLoad_MissingKeysDoNotFail(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	if _, err := LoadDir(dir); err != nil {
		t.Fatalf("LoadDir() without API keys error = %v, want nil", err)
	}
}

func TestLoad_Secrets(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets\nipinfo_token: tok\nipgeolocation_api_key: geo\n")

	t.Run("from file", func(t *testing.T) {
		cfg, err := LoadDir(dir)
		if err != nil {
			t.Fatalf("LoadDir() error = %v", err)
		}
		if cfg.WeatherAPIKey != "key-from-secrets" || cfg.IPInfoToken != "tok" || cfg.IPGeolocationAPIKey != "geo" {
			t.Errorf("keys = %q/%q/%q", cfg.WeatherAPIKey, cfg.IPInfoToken, cfg.IPGeolocationAPIKey)
		}
	})

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("WEATHER_API_KEY", "key-from-env")
		cfg, err := LoadDir(dir)
		if err != nil {
			t.Fatalf("LoadDir() error = %v", err)
		}
		if cfg.WeatherAPIKey != "key-from-env" {
			t.Errorf("WeatherAPIKey = %q, want key-from-env", cfg.WeatherAPIKey)
		}
	})
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("IPINFO_TOKEN=from-dotenv\nCACHE_BACKEND=valkey\n"), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("CACHE_BACKEND", "memcached")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.IPInfoToken != "from-dotenv" {
		t.Errorf("IPInfoToken = %q, want from-dotenv", cfg.IPInfoToken)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want the process env to win over .env", cfg.CacheBackend)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := LoadDir(t.TempDir())
	if err == nil {
		t.Fatal("LoadDir() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadDir() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("LoadDir() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
cache:
  price_ttl: "invalid"
  location_ttl: ""
`)
	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.PriceTTL != 30*time.Minute || cfg.LocationTTL != 5*time.Minute {
		t.Errorf("PriceTTL = %v, LocationTTL = %v, want defaults", cfg.PriceTTL, cfg.LocationTTL)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero upstream timeout", "upstreams:\n  weather:\n    timeout: \"0s\"\n", "upstreams.weather.timeout"},
		{"unknown backend", "cache:\n  backend: redis-cluster\n", "cache.backend"},
		{"bad warm schedule", "cache:\n  warm:\n    schedule: \"every now and then\"\n", "cache.warm.schedule"},
		{"warm query without state", "cache:\n  warm:\n    queries:\n      - commodity: Rice\n", "cache.warm.queries[0]"},
		{"bad prune schedule", "store:\n  prune_schedule: \"@sometimes\"\n", "store.prune_schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.yaml)
			_, err := LoadDir(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadDir() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RequestTimeoutRaisedForScrape(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
request:
  timeout: "10s"
upstreams:
  agmarknet:
    timeout: "30s"
`)
	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.RequestTimeout != 31*time.Second {
		t.Errorf("RequestTimeout = %v, want 31s", cfg.RequestTimeout)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
cache:
  backend: valkey
  valkey:
    addr: "valkey:6379"
  warm:
    enabled: true
    schedule: "*/20 * * * *"
    queries:
      - commodity: Rice
        state: Uttar Pradesh
      - commodity: Wheat
        state: Punjab
        market: Khanna
reliability:
  circuit_breaker:
    enabled: false
location:
  blocked_cities: ["Delhi", "New Delhi", "Mumbai"]
  parallel_ip_lookup: true
health:
  degraded_fallback_pct: 30
metrics:
  tracked_commodities: ["rice", "wheat"]
logging:
  file: "/var/log/farmdata.log"
`)
	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.CacheBackend != "valkey" || cfg.ValkeyAddr != "valkey:6379" {
		t.Errorf("cache = %q at %q", cfg.CacheBackend, cfg.ValkeyAddr)
	}
	if !cfg.WarmCache || len(cfg.WarmQueries) != 2 || cfg.WarmQueries[1].Market != "Khanna" {
		t.Errorf("warm = %v %+v", cfg.WarmCache, cfg.WarmQueries)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("circuit breaker should be disabled")
	}
	if len(cfg.BlockedCities) != 3 || !cfg.ParallelIPLookup {
		t.Errorf("location = %v parallel=%v", cfg.BlockedCities, cfg.ParallelIPLookup)
	}
	if cfg.DegradedFallbackPct != 30 {
		t.Errorf("DegradedFallbackPct = %d, want 30", cfg.DegradedFallbackPct)
	}
	if cfg.LogFile != "/var/log/farmdata.log" || cfg.LogMaxSizeMB != 100 {
		t.Errorf("logging = %q size %d", cfg.LogFile, cfg.LogMaxSizeMB)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: [[[")
	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("LoadDir() error = %v, want parse error", err)
	}

	dir = t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "not valid: yaml: [[[")
	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("LoadDir() error = %v, want secrets parse error", err)
	}
}

func TestLoad_RepositoryDevConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadDir(findProjectRoot(t))
	if err != nil {
		t.Fatalf("LoadDir(project root) error = %v", err)
	}
	if len(cfg.WarmQueries) == 0 {
		t.Error("config/dev.yaml should list warm queries")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile dev.yaml: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile secrets.yaml: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}
