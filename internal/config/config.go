// Package config loads build settings from flags, INETEMU_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/inetemu/internal/logging"
	"github.com/signalsfoundry/inetemu/internal/observability"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "INETEMU"

// Keys understood by Load. Nested keys map to environment variables with
// dots replaced by underscores, e.g. tracing.enabled -> INETEMU_TRACING_ENABLED.
const (
	KeyConfigFile     = "config"
	KeyTopology       = "topology"
	KeyOutDir         = "out"
	KeySeed           = "seed"
	KeyMetricsFile    = "metrics-file"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyTracingEnabled = "tracing.enabled"
	KeyTracingExport  = "tracing.exporter"
	KeyTracingAddr    = "tracing.endpoint"
	KeyTracingRatio   = "tracing.sample-ratio"
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved configuration of one inetemu invocation.
type Config struct {
	Topology    string
	OutDir      string
	Seed        uint64
	MetricsFile string
	Log         logging.Config
	Tracing     observability.TracingConfig
}

// New returns a viper instance with every default set and the environment
// bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	tracing := observability.DefaultTracingConfig()
	v.SetDefault(KeyOutDir, "output")
	v.SetDefault(KeySeed, 0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyTracingEnabled, tracing.Enabled)
	v.SetDefault(KeyTracingExport, tracing.Exporter)
	v.SetDefault(KeyTracingAddr, "")
	v.SetDefault(KeyTracingRatio, tracing.SampleRatio)
	return v
}

// BindFlags binds every flag in fs whose name is a known key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

// Load reads the optional config file and resolves the settings.
func Load(v *viper.Viper) (Config, error) {
	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		Topology:    v.GetString(KeyTopology),
		OutDir:      v.GetString(KeyOutDir),
		Seed:        v.GetUint64(KeySeed),
		MetricsFile: v.GetString(KeyMetricsFile),
		Log: logging.Config{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		Tracing: observability.DefaultTracingConfig(),
	}
	cfg.Tracing.Enabled = v.GetBool(KeyTracingEnabled)
	cfg.Tracing.Exporter = v.GetString(KeyTracingExport)
	cfg.Tracing.Endpoint = v.GetString(KeyTracingAddr)
	cfg.Tracing.SampleRatio = v.GetFloat64(KeyTracingRatio)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that can be checked without touching disk.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%w: empty output directory", ErrInvalid)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing sample ratio %v", ErrInvalid, c.Tracing.SampleRatio)
	}
	return nil
}
