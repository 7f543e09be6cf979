package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ConfigFileEnv names an explicit config file path.
const ConfigFileEnv = "ENRICHWORKER_CONFIG"

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load assembles configuration with layered precedence:
// 1. Defaults
// 2. YAML file named by ENRICHWORKER_CONFIG (if set)
// 3. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded config file", slog.String("path", path))
		config.Merge(fileConfig)
	}

	config.Merge(fromEnv())

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// fromEnv builds a partial Config from environment variables. Unset
// variables leave the corresponding field at its zero value, so Merge skips
// them.
func fromEnv() *Config {
	c := &Config{}

	c.Server.Port = envInt("PORT")
	c.Server.Environment = os.Getenv("ENVIRONMENT")
	c.Server.BaseURL = os.Getenv("WORKER_BASE_URL")
	c.Server.AuthToken = os.Getenv("WORKER_AUTH_TOKEN")

	c.Queue.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	c.Queue.LocationID = os.Getenv("CLOUD_TASKS_LOCATION")
	c.Queue.QueueID = os.Getenv("CLOUD_TASKS_QUEUE")
	c.Queue.ServiceAccountEmail = os.Getenv("CLOUD_TASKS_SERVICE_ACCOUNT_EMAIL")

	c.Callback.BaseURL = os.Getenv("DJANGO_BASE_URL")
	c.Callback.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	c.Callback.LeadsPerPage = envInt("LEADS_PER_PAGE")

	c.Redis.Addr = os.Getenv("REDIS_ADDR")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = envInt("REDIS_DB")

	c.Providers.BrightDataAPIKey = os.Getenv("BRIGHTDATA_API_KEY")
	c.Providers.JinaAPIKey = os.Getenv("JINA_API_TOKEN")
	c.Providers.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.Providers.GeminiAPIKey = os.Getenv("GEMINI_API_TOKEN")
	c.Providers.ApolloAPIKey = os.Getenv("APOLLO_API_KEY")
	if c.Providers.ApolloAPIKey == "" {
		// legacy name from the previous scraper integration
		c.Providers.ApolloAPIKey = os.Getenv("APIFY_API_KEY")
	}
	c.Providers.BuiltWithAPIKey = os.Getenv("BUILTWITH_API_KEY")
	c.Providers.MaxConnections = envInt("PROVIDER_MAX_CONNECTIONS")
	c.Providers.RequestTimeout = envDuration("PROVIDER_REQUEST_TIMEOUT")

	c.Pools.IOWorkers = envInt("IO_WORKERS")
	c.Pools.CPUWorkers = envInt("CPU_WORKERS")

	c.Warehouse.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	c.Warehouse.Dataset = os.Getenv("BIGQUERY_DATASET")
	c.Warehouse.Table = os.Getenv("BIGQUERY_TABLE")

	c.Log.Level = os.Getenv("LOG_LEVEL")
	c.Log.Format = os.Getenv("LOG_FORMAT")

	return c
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
