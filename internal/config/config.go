// Package config loads timeline settings from defaults, the config file,
// TIMELINE_* environment variables and command-line flags via viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/timeline/internal/log"
	"github.com/zjrosen/timeline/internal/tracing"
)

// EnvPrefix is the prefix for environment overrides (TIMELINE_TRACE_SCREENSHOTS, ...).
const EnvPrefix = "TIMELINE"

var envReplacer = strings.NewReplacer(".", "_")

// Telemetry exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config represents the complete timeline configuration.
type Config struct {
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Trace     TraceConfig     `mapstructure:"trace" yaml:"trace"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// BrowserConfig controls which browser is traced.
type BrowserConfig struct {
	// DebuggerURL connects to a running browser (ws:// or http://host:port).
	// When empty a browser is launched.
	DebuggerURL string `mapstructure:"debugger_url" yaml:"debugger_url"`
	// Bin is the browser executable to launch. Empty lets the launcher
	// find or download one.
	Bin string `mapstructure:"bin" yaml:"bin"`
	// Headless launches the browser without a window.
	Headless bool `mapstructure:"headless" yaml:"headless"`
}

// TraceConfig controls capture behavior.
type TraceConfig struct {
	// Categories overrides the default category filter. Accepts a list or
	// a comma-separated string.
	Categories any `mapstructure:"categories" yaml:"categories,omitempty"`
	// StrictCategories rejects malformed category values instead of
	// falling back to the defaults.
	StrictCategories bool `mapstructure:"strict_categories" yaml:"strict_categories"`
	// Screenshots captures frames alongside the timeline.
	Screenshots bool `mapstructure:"screenshots" yaml:"screenshots"`
	// OutputDir is where traces, metadata and history are written.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// StopTimeout bounds the wait for the trace to complete (0 = no limit).
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	// ReadSize is the chunk size requested per IO.read (0 = browser default).
	ReadSize int `mapstructure:"read_size" yaml:"read_size"`
	// LoadTimeout bounds the wait for a page load while recording (0 = no limit).
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
}

// LogConfig controls debug logging.
type LogConfig struct {
	Debug bool   `mapstructure:"debug" yaml:"debug"`
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// TelemetryConfig controls OpenTelemetry export of capture spans.
type TelemetryConfig struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless: true,
		},
		Trace: TraceConfig{
			OutputDir:   ".",
			StopTimeout: 30 * time.Second,
			LoadTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			File:  filepath.Join(ConfigDir(), "timeline.log"),
			Level: "debug",
		},
		Telemetry: TelemetryConfig{
			Exporter: ExporterNone,
			Endpoint: "localhost:4317",
		},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("browser.debugger_url", d.Browser.DebuggerURL)
	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.headless", d.Browser.Headless)

	v.SetDefault("trace.strict_categories", d.Trace.StrictCategories)
	v.SetDefault("trace.screenshots", d.Trace.Screenshots)
	v.SetDefault("trace.output_dir", d.Trace.OutputDir)
	v.SetDefault("trace.stop_timeout", d.Trace.StopTimeout)
	v.SetDefault("trace.read_size", d.Trace.ReadSize)
	v.SetDefault("trace.load_timeout", d.Trace.LoadTimeout)

	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("telemetry.exporter", d.Telemetry.Exporter)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
}

// New returns a viper instance with defaults, env binding and, if it
// exists, the config file at path (or ConfigFile() when path is empty).
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	// No default exists for categories, so the key must be bound explicitly.
	_ = v.BindEnv("trace.categories")

	if path == "" {
		path = ConfigFile()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		log.Debug(log.CatConfig, "no config file", "path", path)
	} else {
		log.Info(log.CatConfig, "loaded config", "path", v.ConfigFileUsed())
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot check on its own.
func (c *Config) Validate() error {
	if !slices.Contains(ValidExporters(), c.Telemetry.Exporter) {
		return fmt.Errorf("invalid telemetry.exporter %q (valid: %v)", c.Telemetry.Exporter, ValidExporters())
	}
	if c.Telemetry.Exporter == ExporterOTLP && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required for the otlp exporter")
	}
	if c.Trace.StopTimeout < 0 {
		return fmt.Errorf("trace.stop_timeout must not be negative, got %s", c.Trace.StopTimeout)
	}
	if c.Trace.LoadTimeout < 0 {
		return fmt.Errorf("trace.load_timeout must not be negative, got %s", c.Trace.LoadTimeout)
	}
	if c.Trace.ReadSize < 0 {
		return fmt.Errorf("trace.read_size must not be negative, got %d", c.Trace.ReadSize)
	}
	if _, err := c.Trace.ResolvedCategories(); err != nil {
		return fmt.Errorf("trace.categories: %w", err)
	}
	return nil
}

// ResolvedCategories returns the configured category override, or nil for
// the default filter.
func (t TraceConfig) ResolvedCategories() ([]string, error) {
	return tracing.ResolveCategories(t.Categories, t.StrictCategories)
}

// ValidExporters returns the accepted telemetry.exporter values.
func ValidExporters() []string {
	return []string{ExporterNone, ExporterStdout, ExporterOTLP}
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "timeline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".timeline"
	}
	return filepath.Join(home, ".config", "timeline")
}

// ConfigFile returns the path to the default config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// WriteDefault writes the default configuration as YAML to path. Existing
// files are only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
