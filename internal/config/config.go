package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/coderun/pkg/catalog"
	"github.com/seantiz/coderun/pkg/client"
	"github.com/seantiz/coderun/pkg/runner"
)

const (
	defaultBaseURL    = "http://localhost:8080"
	defaultListenAddr = ":8080"
	defaultDBPath     = "coderun.db"
	defaultLogLevel   = "info"

	dotenvFile = ".env"

	envConfigFile     = "CODERUN_CONFIG"
	envBaseURL        = "CODERUN_BASE_URL"
	envAPIKey         = "CODERUN_API_KEY"
	envRequestTimeout = "CODERUN_REQUEST_TIMEOUT"
	envPollInterval   = "CODERUN_POLL_INTERVAL"
	envMaxAttempts    = "CODERUN_MAX_ATTEMPTS"
	envCatalogTTL     = "CODERUN_CATALOG_TTL"
	envCancelOnAbort  = "CODERUN_CANCEL_ON_ABORT"
	envListenAddr     = "CODERUN_LISTEN_ADDR"
	envDBPath         = "CODERUN_DB_PATH"
	envLogLevel       = "CODERUN_LOG_LEVEL"
)

// Config holds settings shared by the coderun CLI and the stub service.
type Config struct {
	// Client side.
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	CatalogTTL     time.Duration `yaml:"catalog_ttl"`
	CancelOnAbort  bool          `yaml:"cancel_on_abort"`

	// Stub service side.
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() Config {
	return Config{
		BaseURL:        defaultBaseURL,
		RequestTimeout: client.DefaultTimeout,
		PollInterval:   runner.DefaultPollInterval,
		MaxAttempts:    runner.DefaultMaxAttempts,
		CatalogTTL:     catalog.DefaultTTL,
		CancelOnAbort:  true,
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       defaultLogLevel,
	}
}

// Load builds the configuration in layers:
//  1. Built-in defaults
//  2. A .env file in the working directory, if present (never overrides the real environment)
//  3. A YAML file: the explicit path, else CODERUN_CONFIG, else none
//  4. CODERUN_* environment variables
//  5. Validation
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", dotenvFile, err)
	}

	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// loadYAMLFile decodes path over cfg. Keys absent from the file keep their
// current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error

	if v := os.Getenv(envBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{envRequestTimeout, &cfg.RequestTimeout},
		{envPollInterval, &cfg.PollInterval},
		{envCatalogTTL, &cfg.CatalogTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.dst = parsed
	}

	if v := os.Getenv(envMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envMaxAttempts, err))
		} else {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv(envCancelOnAbort); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envCancelOnAbort, err))
		} else {
			cfg.CancelOnAbort = b
		}
	}

	return errors.Join(errs...)
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BaseURL)
	switch {
	case c.BaseURL == "":
		errs = append(errs, fmt.Errorf("base_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("base_url must be an absolute http(s) URL, got %q", c.BaseURL))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be > 0, got %s", c.RequestTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be > 0, got %s", c.PollInterval))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_attempts must be > 0, got %d", c.MaxAttempts))
	}
	if c.CatalogTTL <= 0 {
		errs = append(errs, fmt.Errorf("catalog_ttl must be > 0, got %s", c.CatalogTTL))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen_addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, fmt.Errorf("db_path is required"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// ClientConfig returns the job client settings.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Timeout: c.RequestTimeout,
	}
}

// RunnerConfig returns the polling settings.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		PollInterval:      c.PollInterval,
		MaxAttempts:       c.MaxAttempts,
		SkipCancelOnAbort: !c.CancelOnAbort,
		CancelTimeout:     runner.DefaultCancelTimeout,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
