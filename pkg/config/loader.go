package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOXELFLOW"

// FlagBindings maps command line flag names to configuration keys. Load binds
// each flag of the set that appears here.
var FlagBindings = map[string]string{
	"log-level":       "logging.level",
	"log-encoding":    "logging.encoding",
	"metrics":         "metrics.enabled",
	"metrics-addr":    "metrics.address",
	"tracing":         "tracing.enabled",
	"memory-fraction": "execution.memory_fraction",
	"compression":     "snapshot.compression",
	"history":         "history.enabled",
	"history-db":      "history.path",
}

// Load builds the configuration from the defaults, the file at path (when not
// empty), the environment and flags, then validates it. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithCode(errors.CodeFileFailed).WithDetail("path", path)
		}
		v.SetConfigType(configType(path))
		if err := v.ReadConfig(strings.NewReader(substituteEnvVars(string(data)))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").WithDetail("path", path)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flag").WithDetail("flag", name)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.output", d.Tracing.Output)
	v.SetDefault("tracing.pretty_print", d.Tracing.PrettyPrint)

	v.SetDefault("execution.memory_fraction", d.Execution.MemoryFraction)
	v.SetDefault("execution.max_allocation_bytes", d.Execution.MaxAllocationBytes)
	v.SetDefault("execution.report_resources", d.Execution.ReportResources)

	v.SetDefault("snapshot.compression", d.Snapshot.Compression)
	v.SetDefault("snapshot.level", d.Snapshot.Level)
	v.SetDefault("snapshot.s3.region", d.Snapshot.S3.Region)
	v.SetDefault("snapshot.s3.endpoint", d.Snapshot.S3.Endpoint)
	v.SetDefault("snapshot.s3.use_path_style", d.Snapshot.S3.UsePathStyle)
	v.SetDefault("snapshot.s3.upload_part_size", d.Snapshot.S3.UploadPartSize)
	v.SetDefault("snapshot.s3.max_concurrency", d.Snapshot.S3.MaxConcurrency)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
}

func configType(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, supported := range viper.SupportedExts {
		if ext == supported {
			return ext
		}
	}
	return "yaml"
}

// substituteEnvVars replaces ${VAR_NAME} with the value of the environment
// variable, or nothing when it is unset. A bare $ is left alone.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start
		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
