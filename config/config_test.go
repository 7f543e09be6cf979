package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := Default()
	c.Server.Environment = "local"
	c.Callback.BaseURL = "http://localhost:8000"
	return c
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "production", c.Server.Environment)
	assert.Equal(t, 20, c.Callback.LeadsPerPage)
	assert.Equal(t, "enrichment_raw_data", c.Warehouse.Table)
	assert.Equal(t, "info", c.Log.Level)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Server.Port = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Server.Environment = "staging"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Callback.BaseURL = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Log.Level = "verbose"
	assert.Error(t, c.Validate())
}

func TestValidate_ProductionRequiresQueue(t *testing.T) {
	c := validConfig()
	c.Server.Environment = "production"
	c.Server.BaseURL = "https://worker.example"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.project_id")

	c.Queue.ProjectID = "proj"
	c.Queue.LocationID = "us-central1"
	c.Queue.QueueID = "enrichment"
	require.NoError(t, c.Validate())
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Merge(&Config{
		Server:    ServerConfig{Environment: "local"},
		Callback:  CallbackConfig{BaseURL: "http://localhost:8000"},
		Providers: ProvidersConfig{OpenAIAPIKey: "sk-test", RequestTimeout: 30 * time.Second},
	})

	assert.Equal(t, "local", base.Server.Environment)
	assert.Equal(t, "http://localhost:8000", base.Callback.BaseURL)
	assert.Equal(t, "sk-test", base.Providers.OpenAIAPIKey)
	assert.Equal(t, 30*time.Second, base.Providers.RequestTimeout)
	// untouched fields keep their defaults
	assert.Equal(t, 8080, base.Server.Port)
	assert.Equal(t, 20, base.Callback.LeadsPerPage)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")

	c := validConfig()
	c.Redis.Addr = "localhost:6379"
	require.NoError(t, c.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local", loaded.Server.Environment)
	assert.Equal(t, "localhost:6379", loaded.Redis.Addr)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	fileConfig := validConfig()
	fileConfig.Server.Port = 9000
	require.NoError(t, fileConfig.SaveToFile(path))

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PORT", "9100")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	loaded, err := NewLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, loaded.Server.Port)
	assert.Equal(t, "sk-env", loaded.Providers.OpenAIAPIKey)
	assert.Equal(t, "local", loaded.Server.Environment)
}
