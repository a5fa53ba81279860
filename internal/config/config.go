package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	GeocoderAPIKey string

	RequestTimeout time.Duration

	CacheTTL time.Duration

	StoreBackend string // "memory" or "sqlite"
	SQLitePath   string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerEnabled     bool
	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	RefreshInterval time.Duration
	RefreshBudget   time.Duration

	CityMinLength int
	CityMaxLength int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`

	Store struct {
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`

	Reliability struct {
		RetryMaxAttempts   int    `yaml:"retry_max_attempts"`
		RetryBaseDelay     string `yaml:"retry_base_delay"`
		RetryMaxDelay      string `yaml:"retry_max_delay"`
		BreakerEnabled     *bool  `yaml:"breaker_enabled"`
		BreakerMaxFailures int    `yaml:"breaker_max_failures"`
		BreakerTimeout     string `yaml:"breaker_timeout"`
		RateLimitRPS       int    `yaml:"rate_limit_rps"`
		RateLimitBurst     int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	BackgroundRefresh struct {
		Interval string `yaml:"interval"`
		Budget   string `yaml:"budget"`
	} `yaml:"background_refresh"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey  string `yaml:"weather_api_key"`
	GeocoderAPIKey string `yaml:"geocoder_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) plus
// config/secrets.yaml. A .env file, when present, is loaded first so env
// overrides work in development too. API keys come from WEATHER_API_KEY /
// GEOCODER_API_KEY env or the secrets file. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
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

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	if secretsData, err := os.ReadFile(secretsPath); err == nil {
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		cfg.WeatherAPIKey = sec.WeatherAPIKey
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	if cfg.GeocoderAPIKey == "" {
		cfg.GeocoderAPIKey = sec.GeocoderAPIKey
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5"
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 35*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	cfg.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = strings.TrimSpace(fc.Store.SQLitePath)
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "weather-dashboard.db"
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	cfg.BreakerEnabled = true
	if fc.Reliability.BreakerEnabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.BreakerEnabled
	}
	cfg.BreakerMaxFailures = fc.Reliability.BreakerMaxFailures
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.RefreshInterval = parseDuration(fc.BackgroundRefresh.Interval, 4*time.Hour)
	cfg.RefreshBudget = parseDuration(fc.BackgroundRefresh.Budget, 30*time.Second)

	cfg.CityMinLength = fc.Validation.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 2
	}
	cfg.CityMaxLength = fc.Validation.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal when the
// string is empty, unparsable, or non-positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + 5*time.Second
	}
	switch cfg.StoreBackend {
	case "memory", "sqlite":
		// valid
	default:
		return fmt.Errorf("store.backend must be memory or sqlite, got %q", cfg.StoreBackend)
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("validation: city_min_length %d exceeds city_max_length %d", cfg.CityMinLength, cfg.CityMaxLength)
	}
	return nil
}
