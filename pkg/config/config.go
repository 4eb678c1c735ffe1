// Package config loads and validates the engine configuration from file and
// environment. Invalid thresholds fail fast at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	bmerrors "github.com/boardmesh/boardmesh/pkg/errors"
)

// EngineConfig holds the conflict engine tunables
type EngineConfig struct {
	// AutomaticResolution enables the automatic strategy loop; when false
	// every conflict is routed to manual intervention.
	AutomaticResolution bool `mapstructure:"automatic_resolution"`
	// MaxResolutionAttempts bounds the strategy attempts per conflict.
	MaxResolutionAttempts int `mapstructure:"max_resolution_attempts"`
	// ConflictTimeout bounds how long a detected conflict stays actionable.
	ConflictTimeout time.Duration `mapstructure:"conflict_timeout"`
	// SpatialOverlapThreshold is the bounding-box overlap fraction (0-1)
	// above which a spatial conflict fires.
	SpatialOverlapThreshold float64 `mapstructure:"spatial_overlap_threshold"`
	// TemporalProximityWindow is the near-simultaneity window.
	TemporalProximityWindow time.Duration `mapstructure:"temporal_proximity_window"`
	// RecencyWindow bounds the conflict scan over pending operations.
	RecencyWindow time.Duration `mapstructure:"recency_window"`
	// CompressionRunLimit caps how many consecutive operations a single
	// compression run may collapse.
	CompressionRunLimit int `mapstructure:"compression_run_limit"`
	// MaxQueueSize is the performance threshold reported to the transport
	// layer for backpressure decisions.
	MaxQueueSize int `mapstructure:"max_queue_size"`
	// MaxLatency is the per-call transform latency threshold.
	MaxLatency time.Duration `mapstructure:"max_latency"`
	// ConflictHistorySize bounds the per-context conflict history.
	ConflictHistorySize int `mapstructure:"conflict_history_size"`
}

// PredictorConfig holds the conflict predictor tunables
type PredictorConfig struct {
	// ProximityThreshold is the cursor distance below which a spatial
	// prediction fires.
	ProximityThreshold float64 `mapstructure:"proximity_threshold"`
	// ActivityTTL is how long a live activity sample stays relevant.
	ActivityTTL time.Duration `mapstructure:"activity_ttl"`
	// SampleRate caps activity samples processed per second; excess samples
	// are coalesced.
	SampleRate float64 `mapstructure:"sample_rate"`
}

// CacheConfig holds the bounded cursor/bounds cache tunables
type CacheConfig struct {
	Size          int           `mapstructure:"size"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DatabaseConfig holds the audit store connection settings
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the notifier/activity-feed connection settings
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// APIConfig holds the HTTP/WebSocket server settings
type APIConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
}

// Config holds the complete application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Predictor   PredictorConfig `mapstructure:"predictor"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	API         APIConfig       `mapstructure:"api"`
	LogLevel    string          `mapstructure:"log_level"`
}

// Load reads configuration from file and BOARDMESH_-prefixed environment
// variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("BOARDMESH_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("BOARDMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("redis.address", "REDIS_ADDR")
	_ = v.BindEnv("database.dsn", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; environment variables may carry everything
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in defaults without touching file or environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Validate checks thresholds; a failure here is fatal at startup
func (c *Config) Validate() error {
	if c.Engine.MaxResolutionAttempts < 1 {
		return &bmerrors.ConfigurationError{Option: "engine.max_resolution_attempts", Reason: "must be at least 1"}
	}
	if c.Engine.SpatialOverlapThreshold < 0 || c.Engine.SpatialOverlapThreshold > 1 {
		return &bmerrors.ConfigurationError{Option: "engine.spatial_overlap_threshold", Reason: "must be within [0,1]"}
	}
	if c.Engine.TemporalProximityWindow <= 0 {
		return &bmerrors.ConfigurationError{Option: "engine.temporal_proximity_window", Reason: "must be positive"}
	}
	if c.Engine.RecencyWindow <= 0 {
		return &bmerrors.ConfigurationError{Option: "engine.recency_window", Reason: "must be positive"}
	}
	if c.Engine.MaxQueueSize < 1 {
		return &bmerrors.ConfigurationError{Option: "engine.max_queue_size", Reason: "must be at least 1"}
	}
	if c.Engine.CompressionRunLimit < 2 {
		return &bmerrors.ConfigurationError{Option: "engine.compression_run_limit", Reason: "must be at least 2"}
	}
	if c.Predictor.ProximityThreshold <= 0 {
		return &bmerrors.ConfigurationError{Option: "predictor.proximity_threshold", Reason: "must be positive"}
	}
	if c.Cache.Size < 1 {
		return &bmerrors.ConfigurationError{Option: "cache.size", Reason: "must be at least 1"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "INFO")

	v.SetDefault("engine.automatic_resolution", true)
	v.SetDefault("engine.max_resolution_attempts", 3)
	v.SetDefault("engine.conflict_timeout", 30*time.Second)
	v.SetDefault("engine.spatial_overlap_threshold", 0.25)
	v.SetDefault("engine.temporal_proximity_window", 500*time.Millisecond)
	v.SetDefault("engine.recency_window", 5*time.Second)
	v.SetDefault("engine.compression_run_limit", 100)
	v.SetDefault("engine.max_queue_size", 1000)
	v.SetDefault("engine.max_latency", 50*time.Millisecond)
	v.SetDefault("engine.conflict_history_size", 256)

	v.SetDefault("predictor.proximity_threshold", 80.0)
	v.SetDefault("predictor.activity_ttl", 3*time.Second)
	v.SetDefault("predictor.sample_rate", 20.0)

	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.sweep_interval", 10*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.read_buffer_size", 4096)
	v.SetDefault("api.write_buffer_size", 4096)
	v.SetDefault("api.ping_interval", 30*time.Second)
	v.SetDefault("api.pong_timeout", 60*time.Second)
}
