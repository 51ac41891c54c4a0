package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/pws-dashboard/internal/validation"
)

// ErrMissingCredentials is returned in production when the vendor API key or station id is absent.
var ErrMissingCredentials = errors.New("WU_API_KEY and WU_STATION_ID required in production (set env, .env, or config/secrets.yaml)")

const (
	defaultAPIURL   = "https://api.weather.com/v2"
	modeProduction  = "production"
	defaultEnvName  = "dev"
	secretsFileName = "secrets.yaml"
)

// Config holds service configuration loaded from YAML, .env files and the environment.
type Config struct {
	EnvName    string
	Production bool

	ServerPort string `validate:"required,numeric"`

	WUAPIKey    string
	WUStationID string

	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`
	RateLimitRPS      float64       `validate:"gte=0"`
	RateLimitBurst    int           `validate:"gte=1"`

	CacheTTL time.Duration `validate:"gt=0"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int           `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration `validate:"gt=0"`

	RefreshSchedule string

	RequestTimeout  time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	InFlightTimeout time.Duration `validate:"gt=0"`

	DegradedWindow      time.Duration `validate:"gt=0"`
	DegradedErrorPct    int           `validate:"gte=1,lte=100"`
	DegradedMinRequests int           `validate:"gte=1"`
}

// HasCredentials reports whether both vendor secrets are set.
func (c *Config) HasCredentials() bool {
	return c.WUAPIKey != "" && c.WUStationID != ""
}

type fileConfig struct {
	Mode string `yaml:"mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL            string  `yaml:"url"`
		Timeout        string  `yaml:"timeout"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"weather_api"`

	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Refresh struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"refresh"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedErrorPct    int    `yaml:"degraded_error_pct"`
		DegradedMinRequests int    `yaml:"degraded_min_requests"`
	} `yaml:"health"`
}

type secretsFile struct {
	WUAPIKey    string `yaml:"wu_api_key"`
	WUStationID string `yaml:"wu_station_id"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads .env.local and .env from dir (never overriding variables already set),
// then config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml. A missing YAML file
// leaves the defaults in place. Secrets come from WU_API_KEY / WU_STATION_ID or the
// secrets file. Production is enabled by ENV_NAME=production or mode: production.
func LoadFrom(dir string) (*Config, error) {
	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}

	env := strings.TrimSpace(os.Getenv("ENV_NAME"))
	if env == "" {
		env = defaultEnvName
	}

	var fc fileConfig
	configPath := filepath.Join(dir, "config", env+".yaml")
	if err := readYAML(configPath, &fc); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	cfg := &Config{
		EnvName:    env,
		Production: env == modeProduction || strings.EqualFold(strings.TrimSpace(fc.Mode), modeProduction),
	}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, err
	}

	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WU_API_URL"), fc.WeatherAPI.URL, defaultAPIURL)
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RateLimitRPS = fc.WeatherAPI.RateLimitRPS
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 0.5
	}
	cfg.RateLimitBurst = fc.WeatherAPI.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 3
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Second)

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RefreshSchedule = strings.TrimSpace(fc.Refresh.Schedule)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedMinRequests = fc.Health.DegradedMinRequests
	if cfg.DegradedMinRequests <= 0 {
		cfg.DegradedMinRequests = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

func loadSecrets(dir string, cfg *Config) error {
	cfg.WUAPIKey = strings.TrimSpace(os.Getenv("WU_API_KEY"))
	cfg.WUStationID = strings.TrimSpace(os.Getenv("WU_STATION_ID"))
	if cfg.HasCredentials() {
		return nil
	}

	var sec secretsFile
	if err := readYAML(filepath.Join(dir, "config", secretsFileName), &sec); err != nil {
		return fmt.Errorf("secrets file: %w", err)
	}
	cfg.WUAPIKey = firstNonEmpty(cfg.WUAPIKey, strings.TrimSpace(sec.WUAPIKey))
	cfg.WUStationID = firstNonEmpty(cfg.WUStationID, strings.TrimSpace(sec.WUStationID))
	return nil
}

// readYAML decodes path into out. A missing file is not an error.
func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
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

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate performs post-load validation. Production refuses to start without
// credentials; the request timeout is widened to cover one upstream call.
func validate(cfg *Config) error {
	if cfg.Production && !cfg.HasCredentials() {
		return ErrMissingCredentials
	}
	if cfg.WUStationID != "" {
		id, err := validation.ValidateStationID(cfg.WUStationID)
		if err != nil {
			return fmt.Errorf("WU_STATION_ID: %w", err)
		}
		cfg.WUStationID = id
	}
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	return nil
}
