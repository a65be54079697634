// Package config centralises runtime configuration for the stream gateway.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the gateway operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ServerConfig controls the websocket listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadLimitBytes  int64         `yaml:"readLimitBytes"`
	SendBufferSize  int           `yaml:"sendBufferSize"`
	PingInterval    time.Duration `yaml:"pingInterval"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	HandlerWorkers  int           `yaml:"handlerWorkers"`
	HandlerQueueLen int           `yaml:"handlerQueueLen"`
}

// ProviderConfig declares the upstream quote service and its quota.
type ProviderConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	Endpoint          string        `yaml:"endpoint"`
	Source            string        `yaml:"source"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	RequestsPerMinute float64       `yaml:"requestsPerMinute"`
	Burst             int           `yaml:"burst"`
}

// FetchConfig tunes the periodic quote fetch loop.
type FetchConfig struct {
	Interval        time.Duration `yaml:"interval"`
	BatchSize       int           `yaml:"batchSize"`
	InterBatchDelay time.Duration `yaml:"interBatchDelay"`
	BatchTimeout    time.Duration `yaml:"batchTimeout"`
}

// DatabaseConfig declares PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the gateway configuration tree loaded from defaults,
// an optional YAML document, and environment overrides.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Provider    ProviderConfig  `yaml:"provider"`
	Fetch       FetchConfig     `yaml:"fetch"`
	Database    DatabaseConfig  `yaml:"database"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the default gateway configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadLimitBytes:  512 * 1024,
			SendBufferSize:  256,
			PingInterval:    30 * time.Second,
			WriteTimeout:    5 * time.Second,
			HandlerWorkers:  32,
			HandlerQueueLen: 256,
		},
		Provider: ProviderConfig{
			BaseURL:           "https://quotes.example.com",
			Endpoint:          "/v1/quote",
			Source:            "rest",
			HTTPTimeout:       10 * time.Second,
			RequestsPerMinute: 60,
			Burst:             5,
		},
		Fetch: FetchConfig{
			Interval:        30 * time.Second,
			BatchSize:       5,
			InterBatchDelay: 2 * time.Second,
			BatchTimeout:    15 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "foliostream-gateway",
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding
// the provided base settings.
func FromEnv(base Settings) Settings {
	cfg := base
	if env := strings.TrimSpace(os.Getenv("STREAMD_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("STREAMD_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("STREAMD_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("QUOTE_PROVIDER_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("QUOTE_PROVIDER_ENDPOINT")); v != "" {
		cfg.Provider.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("QUOTE_PROVIDER_RPM")); v != "" {
		if rpm, err := strconv.ParseFloat(v, 64); err == nil && rpm > 0 {
			cfg.Provider.RequestsPerMinute = rpm
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUOTE_PROVIDER_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Provider.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("STREAMD_FETCH_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.Interval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("STREAMD_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return cfg
}

// Load reads the YAML document at path on top of defaults, then applies
// environment overrides and validates the result. A missing file is not an
// error: defaults plus environment are used.
func Load(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false

	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("STREAMD_CONFIG")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "config/streamd.yaml"
	}

	file, err := os.Open(filepath.Clean(path))
	if err == nil {
		defer func() { _ = file.Close() }()
		bytes, readErr := io.ReadAll(file)
		if readErr != nil {
			return Settings{}, false, fmt.Errorf("read config: %w", readErr)
		}
		if err := yaml.Unmarshal(bytes, &cfg); err != nil {
			return Settings{}, false, fmt.Errorf("unmarshal config: %w", err)
		}
		loaded = true
	} else if !os.IsNotExist(err) {
		return Settings{}, false, fmt.Errorf("open config: %w", err)
	}

	cfg = FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, loaded, err
	}
	return cfg, loaded, nil
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server.Addr) == "" {
		return fmt.Errorf("server addr required")
	}
	if s.Server.SendBufferSize <= 0 {
		return fmt.Errorf("server sendBufferSize must be >0")
	}
	if s.Server.PingInterval <= 0 {
		return fmt.Errorf("server pingInterval must be >0")
	}
	if s.Server.HandlerWorkers <= 0 {
		return fmt.Errorf("server handlerWorkers must be >0")
	}
	if strings.TrimSpace(s.Provider.BaseURL) == "" {
		return fmt.Errorf("provider baseUrl required")
	}
	if s.Provider.RequestsPerMinute <= 0 {
		return fmt.Errorf("provider requestsPerMinute must be >0")
	}
	if s.Fetch.Interval <= 0 {
		return fmt.Errorf("fetch interval must be >0")
	}
	if s.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch batchSize must be >0")
	}
	if s.Fetch.InterBatchDelay < 0 {
		return fmt.Errorf("fetch interBatchDelay must be >=0")
	}
	if s.Fetch.BatchTimeout <= 0 {
		return fmt.Errorf("fetch batchTimeout must be >0")
	}
	if s.Provider.Burst < s.Fetch.BatchSize {
		return fmt.Errorf("provider burst must cover fetch batchSize (%d < %d)",
			s.Provider.Burst, s.Fetch.BatchSize)
	}
	return nil
}
