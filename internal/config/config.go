// File: internal/config/config.go
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Sketch  SketchConfig  `mapstructure:"sketch" yaml:"sketch"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Scores  ScoresConfig  `mapstructure:"scores" yaml:"scores"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// StorageConfig locates the on disk state: graph snapshots and checkpoints both
// live under DataDir in their own versioned subdirectories.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// AdjacencyCacheSize is the number of decoded adjacency lists the snapshot
	// reader keeps in its LRU cache.
	AdjacencyCacheSize int `mapstructure:"adjacency_cache_size" yaml:"adjacency_cache_size"`
}

// SketchConfig fixes the error budget for the reachability sketches. The budget
// is shared by every sketch in a run; changing it invalidates old checkpoints.
type SketchConfig struct {
	// RelativeStdError is the target standard error of the cardinality
	// estimator, e.g. 0.03 for roughly three percent.
	RelativeStdError float64 `mapstructure:"relative_std_error" yaml:"relative_std_error"`
}

// EngineConfig tunes the centrality round loop.
type EngineConfig struct {
	// MaxRounds is the hard bound on expansion rounds.
	MaxRounds int `mapstructure:"max_rounds" yaml:"max_rounds"`
	// ConvergenceFraction stops the run once the total newly reached count in a
	// round falls below this fraction of the node count.
	ConvergenceFraction float64 `mapstructure:"convergence_fraction" yaml:"convergence_fraction"`
	// WorkerConcurrency is the number of parallel shards per round. Zero means
	// GOMAXPROCS.
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	// CheckpointRetention is how many completed checkpoints to keep on disk.
	CheckpointRetention int `mapstructure:"checkpoint_retention" yaml:"checkpoint_retention"`
}

// ScoresConfig configures where the final centrality scores go.
type ScoresConfig struct {
	// OutputPath is the JSONL file the score writer produces.
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	// Postgres optionally mirrors the scores into a database table.
	Postgres PostgresScoresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresScoresConfig holds the optional database sink settings.
type PostgresScoresConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"-"`
	Table   string `mapstructure:"table" yaml:"table"`
	// CopyTimeout bounds the bulk load. The round loop itself carries no
	// internal timeouts, only the sink does.
	CopyTimeout time.Duration `mapstructure:"copy_timeout" yaml:"copy_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webgraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Storage --
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.adjacency_cache_size", 65536)

	// -- Sketch --
	v.SetDefault("sketch.relative_std_error", 0.03)

	// -- Engine --
	v.SetDefault("engine.max_rounds", 64)
	v.SetDefault("engine.convergence_fraction", 0.0001)
	v.SetDefault("engine.worker_concurrency", 0)
	v.SetDefault("engine.checkpoint_retention", 2)

	// -- Scores --
	v.SetDefault("scores.output_path", "scores.jsonl")
	v.SetDefault("scores.postgres.enabled", false)
	v.SetDefault("scores.postgres.table", "harmonic_centrality")
	v.SetDefault("scores.postgres.copy_timeout", "10m")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("scores.postgres.url", "WEBGRAPH_SCORES_PG_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Workers resolves the effective worker count for a round.
func (e EngineConfig) Workers() int {
	if e.WorkerConcurrency > 0 {
		return e.WorkerConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is a required configuration field")
	}
	if c.Storage.AdjacencyCacheSize <= 0 {
		return fmt.Errorf("storage.adjacency_cache_size must be a positive integer")
	}
	if c.Sketch.RelativeStdError <= 0 || c.Sketch.RelativeStdError >= 1 {
		return fmt.Errorf("sketch.relative_std_error must be in (0, 1)")
	}
	if c.Engine.MaxRounds <= 0 {
		return fmt.Errorf("engine.max_rounds must be a positive integer")
	}
	if c.Engine.ConvergenceFraction < 0 || c.Engine.ConvergenceFraction >= 1 {
		return fmt.Errorf("engine.convergence_fraction must be in [0, 1)")
	}
	if c.Engine.WorkerConcurrency < 0 {
		return fmt.Errorf("engine.worker_concurrency must not be negative")
	}
	if c.Engine.CheckpointRetention < 1 {
		return fmt.Errorf("engine.checkpoint_retention must keep at least one checkpoint")
	}
	if err := c.Scores.Validate(); err != nil {
		return fmt.Errorf("scores configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the score sink configuration.
func (s *ScoresConfig) Validate() error {
	if s.OutputPath == "" && !s.Postgres.Enabled {
		return fmt.Errorf("at least one score sink must be configured")
	}
	if s.Postgres.Enabled {
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres sink enabled but no URL set. Ensure WEBGRAPH_SCORES_PG_URL is set")
		}
		if s.Postgres.Table == "" {
			return fmt.Errorf("postgres.table is required when the postgres sink is enabled")
		}
	}
	return nil
}
