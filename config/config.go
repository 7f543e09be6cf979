// Package config provides configuration loading for the enrichment worker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete worker configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	Callback  CallbackConfig  `yaml:"callback"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Pools     PoolsConfig     `yaml:"pools"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Port the worker listens on (default: 8080)
	Port int `yaml:"port"`
	// Environment is "local" or "production"; local swaps managed services
	// for in-process stand-ins
	Environment string `yaml:"environment"`
	// BaseURL is the worker's own externally reachable URL, used as the
	// Cloud Tasks target and OIDC audience
	BaseURL string `yaml:"base_url"`
	// AuthToken guards task-execution endpoints in local mode
	AuthToken string `yaml:"auth_token"`
}

// QueueConfig configures Cloud Tasks.
type QueueConfig struct {
	ProjectID           string `yaml:"project_id"`
	LocationID          string `yaml:"location_id"`
	QueueID             string `yaml:"queue_id"`
	ServiceAccountEmail string `yaml:"service_account_email"`
}

// CallbackConfig configures result delivery to the primary application.
type CallbackConfig struct {
	// BaseURL of the receiving application
	BaseURL string `yaml:"base_url"`
	// CredentialsFile is an optional service-account key for minting OIDC
	// tokens; empty means platform-default credentials
	CredentialsFile string `yaml:"credentials_file"`
	// LeadsPerPage is the pagination fragment size for terminal payloads
	LeadsPerPage int `yaml:"leads_per_page"`
}

// RedisConfig configures the shared cache and status store backend.
type RedisConfig struct {
	// Addr is host:port; empty disables redis and everything falls back to
	// in-memory stores
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProvidersConfig holds upstream API credentials and tuning.
type ProvidersConfig struct {
	BrightDataAPIKey string `yaml:"brightdata_api_key"`
	JinaAPIKey       string `yaml:"jina_api_key"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
	ApolloAPIKey     string `yaml:"apollo_api_key"`
	BuiltWithAPIKey  string `yaml:"builtwith_api_key"`
	// MaxConnections caps concurrent outbound requests per provider pool
	MaxConnections int `yaml:"max_connections"`
	// RequestTimeout bounds one outbound request
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PoolsConfig sizes the offload executors. Zero means auto-size.
type PoolsConfig struct {
	IOWorkers  int `yaml:"io_workers"`
	CPUWorkers int `yaml:"cpu_workers"`
}

// WarehouseConfig configures result archival.
type WarehouseConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
	Table     string `yaml:"table"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error
	Level string `yaml:"level"`
	// Format is json or text
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			Environment: "production",
		},
		Callback: CallbackConfig{
			LeadsPerPage: 20,
		},
		Providers: ProvidersConfig{
			MaxConnections: 20,
			RequestTimeout: 2 * time.Minute,
		},
		Warehouse: WarehouseConfig{
			Table: "enrichment_raw_data",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Local reports whether the worker runs in local development mode.
func (c *Config) Local() bool {
	return c.Server.Environment == "local"
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "local", "production":
	default:
		return fmt.Errorf("server.environment must be local or production, got %q", c.Server.Environment)
	}
	if c.Callback.BaseURL == "" {
		return fmt.Errorf("callback.base_url is required")
	}
	if c.Callback.LeadsPerPage < 1 {
		return fmt.Errorf("callback.leads_per_page must be positive, got %d", c.Callback.LeadsPerPage)
	}
	if !c.Local() {
		if c.Server.BaseURL == "" {
			return fmt.Errorf("server.base_url is required outside local mode")
		}
		if c.Queue.ProjectID == "" || c.Queue.LocationID == "" || c.Queue.QueueID == "" {
			return fmt.Errorf("queue.project_id, queue.location_id, and queue.queue_id are required outside local mode")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	return nil
}

// Merge overlays non-zero fields of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.Environment != "" {
		c.Server.Environment = other.Server.Environment
	}
	if other.Server.BaseURL != "" {
		c.Server.BaseURL = other.Server.BaseURL
	}
	if other.Server.AuthToken != "" {
		c.Server.AuthToken = other.Server.AuthToken
	}
	if other.Queue.ProjectID != "" {
		c.Queue.ProjectID = other.Queue.ProjectID
	}
	if other.Queue.LocationID != "" {
		c.Queue.LocationID = other.Queue.LocationID
	}
	if other.Queue.QueueID != "" {
		c.Queue.QueueID = other.Queue.QueueID
	}
	if other.Queue.ServiceAccountEmail != "" {
		c.Queue.ServiceAccountEmail = other.Queue.ServiceAccountEmail
	}
	if other.Callback.BaseURL != "" {
		c.Callback.BaseURL = other.Callback.BaseURL
	}
	if other.Callback.CredentialsFile != "" {
		c.Callback.CredentialsFile = other.Callback.CredentialsFile
	}
	if other.Callback.LeadsPerPage != 0 {
		c.Callback.LeadsPerPage = other.Callback.LeadsPerPage
	}
	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}
	mergeProviders(&c.Providers, &other.Providers)
	if other.Pools.IOWorkers != 0 {
		c.Pools.IOWorkers = other.Pools.IOWorkers
	}
	if other.Pools.CPUWorkers != 0 {
		c.Pools.CPUWorkers = other.Pools.CPUWorkers
	}
	if other.Warehouse.ProjectID != "" {
		c.Warehouse.ProjectID = other.Warehouse.ProjectID
	}
	if other.Warehouse.Dataset != "" {
		c.Warehouse.Dataset = other.Warehouse.Dataset
	}
	if other.Warehouse.Table != "" {
		c.Warehouse.Table = other.Warehouse.Table
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}

func mergeProviders(dst, src *ProvidersConfig) {
	if src.BrightDataAPIKey != "" {
		dst.BrightDataAPIKey = src.BrightDataAPIKey
	}
	if src.JinaAPIKey != "" {
		dst.JinaAPIKey = src.JinaAPIKey
	}
	if src.OpenAIAPIKey != "" {
		dst.OpenAIAPIKey = src.OpenAIAPIKey
	}
	if src.GeminiAPIKey != "" {
		dst.GeminiAPIKey = src.GeminiAPIKey
	}
	if src.ApolloAPIKey != "" {
		dst.ApolloAPIKey = src.ApolloAPIKey
	}
	if src.BuiltWithAPIKey != "" {
		dst.BuiltWithAPIKey = src.BuiltWithAPIKey
	}
	if src.MaxConnections != 0 {
		dst.MaxConnections = src.MaxConnections
	}
	if src.RequestTimeout != 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &config, nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}
