package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileWithEnvSubstitution(t *testing.T) {
	t.Setenv("VF_TEST_REGION", "eu-west-1")
	path := writeFile(t, "voxelflow.yaml", `
logging:
  level: warn
  encoding: json
metrics:
  enabled: true
  address: 127.0.0.1:9100
execution:
  memory_fraction: 0.5
  max_allocation_bytes: 1048576
snapshot:
  compression: lz4
  s3:
    region: ${VF_TEST_REGION}
    use_path_style: true
history:
  path: /tmp/runs.db
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "unset keys keep their defaults")
	assert.Equal(t, 0.5, cfg.Execution.MemoryFraction)
	assert.Equal(t, int64(1048576), cfg.Execution.MaxAllocationBytes)
	assert.True(t, cfg.Execution.ReportResources)
	assert.Equal(t, "lz4", cfg.Snapshot.Compression)
	assert.Equal(t, "eu-west-1", cfg.Snapshot.S3.Region)
	assert.True(t, cfg.Snapshot.S3.UsePathStyle)
	assert.Equal(t, "/tmp/runs.db", cfg.History.Path)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "voxelflow.yaml", "logging:\n  level: warn\n")
	t.Setenv("VOXELFLOW_LOGGING_LEVEL", "debug")
	t.Setenv("VOXELFLOW_HISTORY_ENABLED", "false")
	t.Setenv("VOXELFLOW_EXECUTION_MEMORY_FRACTION", "0.25")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 0.25, cfg.Execution.MemoryFraction)
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	path := writeFile(t, "voxelflow.yaml", "logging:\n  level: warn\nsnapshot:\n  compression: gzip\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("compression", "zstd", "")
	flags.String("unbound", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level=error"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "gzip", cfg.Snapshot.Compression, "an unset flag must not hide the file value")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(writeFile(t, "bad.yaml", "logging: [unclosed"), nil)
	assert.Error(t, err)

	_, err = Load(writeFile(t, "invalid.yaml", "tracing:\n  sampling_rate: 3\n"), nil)
	assert.ErrorContains(t, err, "sampling_rate")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log encoding", func(c *Config) { c.Logging.Encoding = "xml" }, "logging.encoding"},
		{"metrics address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "" }, "metrics.address"},
		{"sampling rate", func(c *Config) { c.Tracing.SamplingRate = -0.1 }, "sampling_rate"},
		{"service name", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.ServiceName = "" }, "service_name"},
		{"memory fraction", func(c *Config) { c.Execution.MemoryFraction = 1.5 }, "memory_fraction"},
		{"allocation cap", func(c *Config) { c.Execution.MaxAllocationBytes = -1 }, "max_allocation_bytes"},
		{"compression", func(c *Config) { c.Snapshot.Compression = "rar" }, "snapshot.compression"},
		{"s3 sizes", func(c *Config) { c.Snapshot.S3.MaxConcurrency = -2 }, "snapshot.s3"},
		{"history path", func(c *Config) { c.History.Path = "" }, "history.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.History = HistoryConfig{}
	assert.NoError(t, cfg.Validate(), "a disabled history needs no path")
}

func TestWriteRoundTrip(t *testing.T) {
	want := Default()
	want.Logging.Level = "debug"
	want.Snapshot.S3.Endpoint = "http://localhost:9000"

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))
	assert.Contains(t, buf.String(), "memory_fraction: 0.8")

	got, err := Load(writeFile(t, "out.yaml", buf.String()), nil)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("VF_A", "alpha")
	assert.Equal(t, "x: alpha, y: , z: $HOME", substituteEnvVars("x: ${VF_A}, y: ${VF_UNSET_VAR}, z: $HOME"))
	assert.Equal(t, "open ${", substituteEnvVars("open ${"))
}
