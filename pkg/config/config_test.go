package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmerrors "github.com/boardmesh/boardmesh/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.True(t, cfg.Engine.AutomaticResolution)
	assert.Equal(t, 3, cfg.Engine.MaxResolutionAttempts)
	assert.Equal(t, 0.25, cfg.Engine.SpatialOverlapThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		option string
	}{
		{
			name:   "zero resolution attempts",
			mutate: func(c *Config) { c.Engine.MaxResolutionAttempts = 0 },
			option: "engine.max_resolution_attempts",
		},
		{
			name:   "overlap threshold above 1",
			mutate: func(c *Config) { c.Engine.SpatialOverlapThreshold = 1.5 },
			option: "engine.spatial_overlap_threshold",
		},
		{
			name:   "negative temporal window",
			mutate: func(c *Config) { c.Engine.TemporalProximityWindow = -1 },
			option: "engine.temporal_proximity_window",
		},
		{
			name:   "zero recency window",
			mutate: func(c *Config) { c.Engine.RecencyWindow = 0 },
			option: "engine.recency_window",
		},
		{
			name:   "compression run limit too small",
			mutate: func(c *Config) { c.Engine.CompressionRunLimit = 1 },
			option: "engine.compression_run_limit",
		},
		{
			name:   "zero proximity threshold",
			mutate: func(c *Config) { c.Predictor.ProximityThreshold = 0 },
			option: "predictor.proximity_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var ce *bmerrors.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.option, ce.Option)
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BOARDMESH_CONFIG_FILE", "testdata/missing.yaml")
	t.Setenv("BOARDMESH_ENGINE_AUTOMATIC_RESOLUTION", "false")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Engine.AutomaticResolution)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
}
