// Package config loads agent settings from, in increasing precedence,
// built-in defaults, an optional YAML or JSON file, ANTICHEAT_* environment
// variables, and explicitly set command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped
// to keys: ANTICHEAT_WINDOW_SIZE sets window_size.
const EnvPrefix = "ANTICHEAT_"

// maxConfigFileSize bounds the optional config file.
const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Config is the resolved agent configuration.
type Config struct {
	DataDir       string `koanf:"data_dir"`
	TelemetryPath string `koanf:"telemetry_path"`
	AlertsPath    string `koanf:"alerts_path"`
	EvalPath      string `koanf:"eval_path"`
	// ModelPath is the linear model artifact; empty runs the rule pass only.
	ModelPath     string `koanf:"model_path"`

	// Quiet suppresses per-tick alert lines.
	Quiet bool `koanf:"quiet"`
	// Hybrid requires the rule gate to agree with the model.
	Hybrid bool `koanf:"hybrid"`

	RuleCombo     string  `koanf:"rule_combo" validate:"oneof=any strict"`
	WindowSize    int     `koanf:"window_size" validate:"gte=1,lte=10000"`
	AbsThreshold  float64 `koanf:"abs_threshold" validate:"gt=0"`
	DebounceTicks int     `koanf:"debounce_ticks" validate:"gte=1,lte=10000"`
	// MaxInputBytes caps the telemetry read; 0 means unlimited.
	MaxInputBytes int64 `koanf:"max_input_bytes" validate:"gte=0"`
	// StrictFeatureOrder fails the model pass when the artifact's feature
	// names disagree with the pipeline order, instead of warning.
	StrictFeatureOrder bool `koanf:"strict_feature_order"`

	// Optional outputs; empty disables each.
	DBPath      string `koanf:"db_path"`
	ReportDir   string `koanf:"report_dir"`
	MetricsPath string `koanf:"metrics_path"`
	LogDir      string `koanf:"log_dir"`

	// Listen is the inspection server address.
	Listen string `koanf:"listen" validate:"required,hostname_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:       "data",
		ModelPath:     filepath.Join("models", "linear_model.json"),
		RuleCombo:     "any",
		WindowSize:    5,
		AbsThreshold:  6.0,
		DebounceTicks: 1,
		MaxInputBytes: 64 << 20,
		Listen:        "127.0.0.1:8097",
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an optional YAML or JSON config file. A missing file is an
	// error when set.
	File string
	// Overrides are applied last, keyed by config key.
	Overrides map[string]interface{}
}

// Load layers defaults, File, the environment and Overrides, then resolves
// and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if opts.File != "" {
		info, err := os.Stat(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", opts.File, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, v := range opts.Overrides {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps ANTICHEAT_MAX_INPUT_BYTES to max_input_bytes.
func envTransformFunc(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
}

// resolvePaths fills unset session paths from DataDir.
func (c *Config) resolvePaths() {
	if c.TelemetryPath == "" {
		c.TelemetryPath = filepath.Join(c.DataDir, "telemetry.csv")
	}
	if c.AlertsPath == "" {
		c.AlertsPath = filepath.Join(c.DataDir, "alerts.csv")
	}
	if c.EvalPath == "" {
		c.EvalPath = filepath.Join(c.DataDir, "eval.csv")
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %s%s (got %v)", fe.Field(), fe.Tag(), paramSuffix(fe.Param()), fe.Value())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	in := filepath.Clean(c.TelemetryPath)
	for name, out := range map[string]string{"alerts_path": c.AlertsPath, "eval_path": c.EvalPath} {
		if filepath.Clean(out) == in {
			return fmt.Errorf("%s must not overwrite telemetry_path %s", name, c.TelemetryPath)
		}
	}
	if filepath.Clean(c.AlertsPath) == filepath.Clean(c.EvalPath) {
		return fmt.Errorf("alerts_path and eval_path are both %s", c.AlertsPath)
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// FlagOverrides collects the flags of fs that were set on the command line,
// mapped to config keys through keys (flag name to key). Flags absent from
// keys are ignored.
func FlagOverrides(fs *flag.FlagSet, keys map[string]string) map[string]interface{} {
	out := make(map[string]interface{})
	fs.Visit(func(f *flag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		if g, ok := f.Value.(flag.Getter); ok {
			out[key] = g.Get()
			return
		}
		out[key] = f.Value.String()
	})
	return out
}
