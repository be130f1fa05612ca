package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Upstream holds the settings for one outbound dependency.
type Upstream struct {
	URL           string
	Timeout       time.Duration
	RetryAttempts int
}

// WarmQuery is one (commodity, state) pair scraped ahead of demand.
type WarmQuery struct {
	Commodity string `yaml:"commodity"`
	State     string `yaml:"state"`
	Market    string `yaml:"market"`
}

// Config holds service configuration loaded from YAML, secrets and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	Agmarknet     Upstream
	IPInfo        Upstream
	IPAPI         Upstream
	IPGeolocation Upstream
	Nominatim     Upstream
	BigDataCloud  Upstream
	Weather       Upstream
	Soil          Upstream

	WeatherAPIKey       string
	IPInfoToken         string
	IPGeolocationAPIKey string

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CacheBackend          string // "in_memory", "memcached" or "valkey"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	ValkeyAddr            string
	PriceTTL              time.Duration
	LocationTTL           time.Duration
	WeatherTTL            time.Duration
	SoilTTL               time.Duration
	CoalesceTimeout       time.Duration

	SQLitePath          string
	ManualMaxAge        time.Duration
	ManualPruneSchedule string

	BlockedCities    []string
	ParallelIPLookup bool
	GPSMaxAccuracy   float64
	GPSAttempts      int
	GPSRetryDelay    time.Duration
	FallbackSeed     int64

	WarmCache          bool
	WarmSchedule       string
	WarmTimeout        time.Duration
	WarmQueries        []WarmQuery
	TrackedCommodities []string

	RateLimitRPS           int
	RateLimitBurst         int
	HealthWindow           time.Duration
	OverloadThresholdPct   int
	DegradedFallbackPct    int
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type upstreamFile struct {
	URL           string `yaml:"url"`
	Timeout       string `yaml:"timeout"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

type fileConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Logging struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Upstreams struct {
		Agmarknet     upstreamFile `yaml:"agmarknet"`
		IPInfo        upstreamFile `yaml:"ipinfo"`
		IPAPI         upstreamFile `yaml:"ip_api"`
		IPGeolocation upstreamFile `yaml:"ipgeolocation"`
		Nominatim     upstreamFile `yaml:"nominatim"`
		BigDataCloud  upstreamFile `yaml:"bigdatacloud"`
		Weather       upstreamFile `yaml:"weather"`
		Soil          upstreamFile `yaml:"soil"`
	} `yaml:"upstreams"`

	Reliability struct {
		RetryBaseDelay string `yaml:"retry_base_delay"`
		RetryMaxDelay  string `yaml:"retry_max_delay"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Cache struct {
		Backend         string `yaml:"backend"`
		PriceTTL        string `yaml:"price_ttl"`
		LocationTTL     string `yaml:"location_ttl"`
		WeatherTTL      string `yaml:"weather_ttl"`
		SoilTTL         string `yaml:"soil_ttl"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Valkey struct {
			Addr string `yaml:"addr"`
		} `yaml:"valkey"`
		Warm struct {
			Enabled  bool        `yaml:"enabled"`
			Schedule string      `yaml:"schedule"`
			Timeout  string      `yaml:"timeout"`
			Queries  []WarmQuery `yaml:"queries"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Store struct {
		SQLitePath    string `yaml:"sqlite_path"`
		ManualMaxAge  string `yaml:"manual_max_age"`
		PruneSchedule string `yaml:"prune_schedule"`
	} `yaml:"store"`

	Location struct {
		BlockedCities    []string `yaml:"blocked_cities"`
		ParallelIPLookup bool     `yaml:"parallel_ip_lookup"`
		GPSMaxAccuracy   float64  `yaml:"gps_max_accuracy_m"`
		GPSAttempts      int      `yaml:"gps_attempts"`
		GPSRetryDelay    string   `yaml:"gps_retry_delay"`
		FallbackSeed     int64    `yaml:"fallback_seed"`
	} `yaml:"location"`

	Health struct {
		Window                 string `yaml:"window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		DegradedFallbackPct    int    `yaml:"degraded_fallback_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
	} `yaml:"health"`

	Metrics struct {
		TrackedCommodities []string `yaml:"tracked_commodities"`
	} `yaml:"metrics"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey       string `yaml:"weather_api_key"`
	IPInfoToken         string `yaml:"ipinfo_token"`
	IPGeolocationAPIKey string `yaml:"ipgeolocation_api_key"`
}

// Load reads configuration from the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir loads dir/.env if present, then config/{ENV_NAME}.yaml (default
// dev) and config/secrets.yaml. Variables already in the environment win
// over .env, and env wins over both files. Missing API keys are not an
// error: the affected upstream reports itself unconfigured.
func LoadDir(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "config", "secrets.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = orDefault(fc.Server.Port, "8080")
	cfg.MaxBodyBytes = fc.Server.MaxBodyBytes
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 50*time.Second)

	cfg.LogFile = strings.TrimSpace(fc.Logging.File)
	cfg.LogMaxSizeMB = positiveOr(fc.Logging.MaxSizeMB, 100)
	cfg.LogMaxBackups = positiveOr(fc.Logging.MaxBackups, 5)
	cfg.LogMaxAgeDays = positiveOr(fc.Logging.MaxAgeDays, 14)
	cfg.LogCompress = fc.Logging.Compress

	cfg.Agmarknet = upstream(fc.Upstreams.Agmarknet, "https://agmarknet.gov.in", 45*time.Second)
	cfg.IPInfo = upstream(fc.Upstreams.IPInfo, "https://ipinfo.io", 5*time.Second)
	cfg.IPAPI = upstream(fc.Upstreams.IPAPI, "http://ip-api.com", 5*time.Second)
	cfg.IPGeolocation = upstream(fc.Upstreams.IPGeolocation, "https://api.ipgeolocation.io", 5*time.Second)
	cfg.Nominatim = upstream(fc.Upstreams.Nominatim, "https://nominatim.openstreetmap.org", 10*time.Second)
	cfg.BigDataCloud = upstream(fc.Upstreams.BigDataCloud, "https://api.bigdatacloud.net", 10*time.Second)
	cfg.Weather = upstream(fc.Upstreams.Weather, "https://api.openweathermap.org/data/2.5/weather", 15*time.Second)
	cfg.Soil = upstream(fc.Upstreams.Soil, "https://rest.isric.org/soilgrids/v2.0/properties/query", 15*time.Second)

	cfg.WeatherAPIKey = envOr("WEATHER_API_KEY", sec.WeatherAPIKey)
	cfg.IPInfoToken = envOr("IPINFO_TOKEN", sec.IPInfoToken)
	cfg.IPGeolocationAPIKey = envOr("IPGEOLOCATION_API_KEY", sec.IPGeolocationAPIKey)

	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 50)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 100)
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled == nil || *cb.Enabled
	cfg.CircuitBreakerFailureThreshold = positiveOr(cb.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(cb.SuccessThreshold, 1)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 60*time.Second)

	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.ValkeyAddr = envOr("VALKEY_ADDR", fc.Cache.Valkey.Addr)
	if cfg.ValkeyAddr == "" {
		cfg.ValkeyAddr = "localhost:6379"
	}
	cfg.PriceTTL = parseDuration(fc.Cache.PriceTTL, 30*time.Minute)
	cfg.LocationTTL = parseDuration(fc.Cache.LocationTTL, 5*time.Minute)
	cfg.WeatherTTL = parseDuration(fc.Cache.WeatherTTL, 10*time.Minute)
	cfg.SoilTTL = parseDuration(fc.Cache.SoilTTL, 24*time.Hour)
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, 60*time.Second)

	cfg.WarmCache = fc.Cache.Warm.Enabled
	cfg.WarmSchedule = orDefault(fc.Cache.Warm.Schedule, "@every 30m")
	cfg.WarmTimeout = parseDuration(fc.Cache.Warm.Timeout, 2*time.Minute)
	cfg.WarmQueries = fc.Cache.Warm.Queries

	cfg.SQLitePath = envOr("SQLITE_PATH", fc.Store.SQLitePath)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/farmdata.db"
	}
	cfg.ManualMaxAge = parseDuration(fc.Store.ManualMaxAge, 7*24*time.Hour)
	cfg.ManualPruneSchedule = orDefault(fc.Store.PruneSchedule, "@daily")

	cfg.BlockedCities = fc.Location.BlockedCities
	cfg.ParallelIPLookup = fc.Location.ParallelIPLookup
	cfg.GPSMaxAccuracy = fc.Location.GPSMaxAccuracy
	if cfg.GPSMaxAccuracy <= 0 {
		cfg.GPSMaxAccuracy = 100
	}
	cfg.GPSAttempts = positiveOr(fc.Location.GPSAttempts, 3)
	cfg.GPSRetryDelay = parseDuration(fc.Location.GPSRetryDelay, 2*time.Second)
	cfg.FallbackSeed = fc.Location.FallbackSeed

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Health.OverloadThresholdPct, 80)
	cfg.DegradedFallbackPct = positiveOr(fc.Health.DegradedFallbackPct, 50)
	cfg.IdleThresholdReqPerMin = fc.Health.IdleThresholdReqPerMin
	cfg.MinimumLifespan = parseDuration(fc.Health.MinimumLifespan, 5*time.Minute)

	cfg.TrackedCommodities = fc.Metrics.TrackedCommodities

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 20*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func upstream(f upstreamFile, defaultURL string, defaultTimeout time.Duration) Upstream {
	return Upstream{
		URL:           orDefault(f.URL, defaultURL),
		Timeout:       parseDurationOrZero(f.Timeout, defaultTimeout),
		RetryAttempts: positiveOr(f.RetryAttempts, 1),
	}
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
// Returns zero or negative durations as-is (caller should handle fallback).
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

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func positiveOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// validate performs post-load validation. Upstream timeouts must be
// positive and the request timeout is raised to cover a full price scrape.
func validate(cfg *Config) error {
	upstreams := map[string]Upstream{
		"agmarknet":     cfg.Agmarknet,
		"ipinfo":        cfg.IPInfo,
		"ip_api":        cfg.IPAPI,
		"ipgeolocation": cfg.IPGeolocation,
		"nominatim":     cfg.Nominatim,
		"bigdatacloud":  cfg.BigDataCloud,
		"weather":       cfg.Weather,
		"soil":          cfg.Soil,
	}
	for name, u := range upstreams {
		if u.Timeout <= 0 {
			return fmt.Errorf("upstreams.%s.timeout must be positive", name)
		}
	}
	if cfg.RequestTimeout <= cfg.Agmarknet.Timeout {
		cfg.RequestTimeout = cfg.Agmarknet.Timeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "valkey":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or valkey, got %q", cfg.CacheBackend)
	}
	if _, err := cron.ParseStandard(cfg.WarmSchedule); err != nil {
		return fmt.Errorf("cache.warm.schedule %q: %w", cfg.WarmSchedule, err)
	}
	if _, err := cron.ParseStandard(cfg.ManualPruneSchedule); err != nil {
		return fmt.Errorf("store.prune_schedule %q: %w", cfg.ManualPruneSchedule, err)
	}
	for i, q := range cfg.WarmQueries {
		if strings.TrimSpace(q.Commodity) == "" || strings.TrimSpace(q.State) == "" {
			return fmt.Errorf("cache.warm.queries[%d]: commodity and state are required", i)
		}
	}
	return nil
}
