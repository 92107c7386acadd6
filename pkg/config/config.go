// Package config holds the process configuration of voxelflow: logging,
// metrics, tracing, execution limits, snapshot storage and run history.
//
// Values are layered in this order, later layers winning:
//
//   - the defaults returned by Default
//   - a YAML file, with ${VAR_NAME} replaced by the environment
//   - VOXELFLOW_* environment variables, e.g. VOXELFLOW_LOGGING_LEVEL=debug
//   - command line flags bound through Load
package config

import (
	"github.com/ajitpratap0/voxelflow/pkg/compression"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
	"github.com/ajitpratap0/voxelflow/pkg/observability"
	"github.com/ajitpratap0/voxelflow/pkg/performance"
	"github.com/ajitpratap0/voxelflow/pkg/snapshot"
	"go.uber.org/zap/zapcore"
)

// Config is the complete process configuration.
type Config struct {
	Logging   logger.Config               `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig               `mapstructure:"metrics" yaml:"metrics"`
	Tracing   observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Execution ExecutionConfig             `mapstructure:"execution" yaml:"execution"`
	Snapshot  SnapshotConfig              `mapstructure:"snapshot" yaml:"snapshot"`
	History   HistoryConfig               `mapstructure:"history" yaml:"history"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ExecutionConfig limits what a pipeline run may allocate and controls the
// resource report logged after each run.
type ExecutionConfig struct {
	performance.GuardConfig `mapstructure:",squash" yaml:",inline"`
	ReportResources         bool `mapstructure:"report_resources" yaml:"report_resources"`
}

// SnapshotConfig holds the defaults for snapshot storage.
type SnapshotConfig struct {
	S3          snapshot.S3Config `mapstructure:"s3" yaml:"s3"`
	Compression string            `mapstructure:"compression" yaml:"compression"`
	Level       int               `mapstructure:"level" yaml:"level"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Logging: logger.Config{
			Level:       "info",
			Encoding:    "console",
			OutputPaths: []string{"stderr"},
		},
		Metrics: MetricsConfig{
			Address: ":9090",
			Path:    "/metrics",
		},
		Tracing: observability.TracingConfig{
			ServiceName:  "voxelflow",
			SamplingRate: 1.0,
			Output:       "stderr",
		},
		Execution: ExecutionConfig{
			GuardConfig:     performance.GuardConfig{MemoryFraction: 0.8},
			ReportResources: true,
		},
		Snapshot: SnapshotConfig{
			S3:          snapshot.S3Config{UploadPartSize: 16 << 20, MaxConcurrency: 4},
			Compression: string(compression.Zstd),
			Level:       int(compression.Default),
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "voxelflow-history.db",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.Newf(errors.ErrorTypeConfig, "logging.level: %v", err)
	}
	switch c.Logging.Encoding {
	case "", "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "logging.encoding must be json or console, got %q", c.Logging.Encoding)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New(errors.ErrorTypeConfig, "metrics.address is required when metrics are enabled")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.Newf(errors.ErrorTypeConfig, "tracing.sampling_rate must be in [0, 1], got %v", c.Tracing.SamplingRate)
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return errors.New(errors.ErrorTypeConfig, "tracing.service_name is required when tracing is enabled")
	}

	if f := c.Execution.MemoryFraction; f < 0 || f > 1 {
		return errors.Newf(errors.ErrorTypeConfig, "execution.memory_fraction must be in [0, 1], got %v", f)
	}
	if c.Execution.MaxAllocationBytes < 0 {
		return errors.New(errors.ErrorTypeConfig, "execution.max_allocation_bytes must not be negative")
	}

	if _, err := compression.ParseAlgorithm(c.Snapshot.Compression); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "snapshot.compression")
	}
	if c.Snapshot.S3.UploadPartSize < 0 || c.Snapshot.S3.MaxConcurrency < 0 {
		return errors.New(errors.ErrorTypeConfig, "snapshot.s3 sizes must not be negative")
	}

	if c.History.Enabled && c.History.Path == "" {
		return errors.New(errors.ErrorTypeConfig, "history.path is required when history is enabled")
	}
	return nil
}
