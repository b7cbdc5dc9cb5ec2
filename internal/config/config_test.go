package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 0.3, cfg.Engine.SimilarityThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Engine.ClusterWindow)
	assert.Equal(t, 3, cfg.Engine.TopK)
	assert.Equal(t, 10*time.Second, cfg.Detectors.Timeout)
	assert.Equal(t, 3, cfg.Detectors.RestartCountThreshold)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9090"
engine:
  similarityThreshold: 0.5
  topK: 5
detectors:
  leakSlopeMBPerMin: 25
logging:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 0.5, cfg.Engine.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Engine.TopK)
	assert.Equal(t, 25.0, cfg.Detectors.LeakSlopeMBPerMin)
	assert.True(t, cfg.Logging.JSON)
	// Unset values keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.Engine.ClusterWindow)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SLEUTH_RCA_SERVER_ADDRESS", ":7070")
	t.Setenv("SLEUTH_RCA_LOG_LEVEL", "debug")
	t.Setenv("SLEUTH_RCA_LOG_FORMAT", "json")
	t.Setenv("SLEUTH_RCA_TOP_K", "7")
	t.Setenv("SLEUTH_RCA_DETECTOR_TIMEOUT", "15s")
	t.Setenv("SLEUTH_RCA_CACHE_ENABLED", "false")
	t.Setenv("SLEUTH_RCA_CACHE_TTL", "10m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, 7, cfg.Engine.TopK)
	assert.Equal(t, 15*time.Second, cfg.Detectors.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"similarity above one", func(c *Config) { c.Engine.SimilarityThreshold = 1.5 }},
		{"negative link strength", func(c *Config) { c.Engine.MinLinkStrength = -0.1 }},
		{"zero topK", func(c *Config) { c.Engine.TopK = 0 }},
		{"zero half life", func(c *Config) { c.Engine.LinkHalfLife = 0 }},
		{"zero detector timeout", func(c *Config) { c.Detectors.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
