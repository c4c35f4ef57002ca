// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.meshy.ai", cfg.Meshy.BaseURL)
	assert.Equal(t, "MESHY_API_KEY", cfg.Meshy.APIKeyEnv)
	assert.Equal(t, "quad", cfg.Meshy.Topology)
	assert.Equal(t, "meshy-5", cfg.Meshy.AIModel)
	assert.True(t, cfg.Meshy.ShouldTexture)
	assert.Equal(t, 1.75, cfg.Meshy.HeightMeters)
	assert.Equal(t, "assets/glb", cfg.Meshy.OutputDir)

	assert.Equal(t, 10*time.Second, cfg.Poll.Interval)
	assert.Equal(t, time.Hour, cfg.Poll.Timeout)

	assert.Equal(t, 0, cfg.HTTP.MaxRetries)
	assert.Equal(t, 256*1024, cfg.HTTP.ChunkSize)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithDotEnv(filepath.Join(t.TempDir(), "missing.env")).Load()
	require.NoError(t, err)
	assert.Equal(t, "quad", cfg.Meshy.Topology)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "meshypipe.yaml")
	yamlContent := `
meshy:
  base_url: "http://localhost:9000"
  topology: triangle
  should_texture: false
poll:
  interval: 2s
  timeout: 5m
http:
  max_retries: 2
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).WithDotEnv("").Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.Meshy.BaseURL)
	assert.Equal(t, "triangle", cfg.Meshy.Topology)
	assert.False(t, cfg.Meshy.ShouldTexture)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Poll.Timeout)
	assert.Equal(t, 2, cfg.HTTP.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, "meshy-5", cfg.Meshy.AIModel)
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	_, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.Error(t, err)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "meshypipe.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("meshy:\n  ai_model: meshy-4\n  topology: triangle\n"), 0644))

	t.Setenv("MESHYPIPE_MESHY_TOPOLOGY", "quad")
	t.Setenv("MESHYPIPE_POLL_INTERVAL", "3s")
	t.Setenv("MESHYPIPE_LOG_OUTPUT_PATHS", "stdout, /tmp/meshypipe.log")

	cfg, err := NewLoader().WithConfigPath(configPath).WithDotEnv("").Load()
	require.NoError(t, err)

	assert.Equal(t, "quad", cfg.Meshy.Topology)
	assert.Equal(t, "meshy-4", cfg.Meshy.AIModel)
	assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
	assert.Equal(t, []string{"stdout", "/tmp/meshypipe.log"}, cfg.Log.OutputPaths)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("MESHYPIPE_POLL_TIMEOUT", "forever")

	_, err := NewLoader().WithDotEnv("").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MESHYPIPE_POLL_TIMEOUT")
}

func TestLoader_DotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "MESHYPIPE_TEST_TOKEN=from-file\nMESHYPIPE_MESHY_AI_MODEL=meshy-4\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0600))

	t.Setenv("MESHYPIPE_TEST_TOKEN", "from-process")
	t.Cleanup(func() { os.Unsetenv("MESHYPIPE_MESHY_AI_MODEL") })

	cfg, err := NewLoader().WithDotEnv(envPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-process", os.Getenv("MESHYPIPE_TEST_TOKEN"))
	assert.Equal(t, "meshy-4", cfg.Meshy.AIModel)
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithDotEnv("").
		WithValidator(func(c *Config) error { return c.Validate() }).
		WithValidator(func(c *Config) error {
			if c.Meshy.OutputDir == "assets/glb" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad topology", mutate: func(c *Config) { c.Meshy.Topology = "ngon" }, wantErr: "invalid topology"},
		{name: "bad model", mutate: func(c *Config) { c.Meshy.AIModel = "meshy-9" }, wantErr: "invalid ai_model"},
		{name: "zero height", mutate: func(c *Config) { c.Meshy.HeightMeters = 0 }, wantErr: "height_meters"},
		{name: "zero interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: "poll.interval"},
		{name: "negative timeout", mutate: func(c *Config) { c.Poll.Timeout = -time.Second }, wantErr: "poll.timeout"},
		{name: "negative retries", mutate: func(c *Config) { c.HTTP.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "tiny chunk", mutate: func(c *Config) { c.HTTP.ChunkSize = 16 }, wantErr: "chunk_size"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
