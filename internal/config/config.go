// Package config loads sqlquest settings.
//
// Values are layered, later layers winning: built-in defaults, a YAML file
// (sqlquest.yaml in the working directory unless --config names one),
// SQLQUEST_* environment variables and finally command-line flags that were
// set explicitly. Nested keys use "__" in variable names, so
// SQLQUEST_LIMITS__MAX_ROWS sets limits.max_rows.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/soham407/sqlquest/internal/sandbox"
)

// EnvPrefix prefixes every environment variable read.
const EnvPrefix = "SQLQUEST_"

// DefaultFiles are looked up in the working directory when no file is named.
var DefaultFiles = []string{"sqlquest.yaml", "sqlquest.yml"}

// Output formats.
var outputs = []string{"table", "json", "csv", "markdown"}

// Config is the full configuration.
type Config struct {
	Engine  string        `koanf:"engine"`
	Output  string        `koanf:"output"`
	Log     LogConfig     `koanf:"log"`
	Limits  LimitsConfig  `koanf:"limits"`
	Lessons LessonsConfig `koanf:"lessons"`
	Server  ServerConfig  `koanf:"server"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type LimitsConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	MaxStatements int           `koanf:"max_statements"`
	MaxRows       int           `koanf:"max_rows"`
}

type LessonsConfig struct {
	// Dir holds lesson YAML files. Empty means the bundled lessons.
	Dir string `koanf:"dir"`
}

type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	GRPCAddr      string        `koanf:"grpc_addr"`
	SessionSecret string        `koanf:"session_secret"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepSchedule string        `koanf:"sweep_schedule"`
}

func defaults() map[string]any {
	return map[string]any{
		"engine":                sandbox.NativeName,
		"output":                "table",
		"log.level":             "warn",
		"log.format":            "text",
		"limits.timeout":        sandbox.DefaultLimits.Timeout,
		"limits.max_statements": sandbox.DefaultLimits.MaxStatements,
		"limits.max_rows":       sandbox.DefaultLimits.MaxRows,
		"lessons.dir":           "",
		"server.addr":           ":8080",
		"server.grpc_addr":      ":9090",
		"server.session_secret": "",
		"server.idle_timeout":   30 * time.Minute,
		"server.sweep_schedule": "@every 1m",
	}
}

// Default returns the built-in configuration, ignoring files, environment
// and flags.
func Default() *Config {
	k := koanf.New(".")
	var cfg Config
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		panic(err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"timeout":        "limits.timeout",
	"max-statements": "limits.max_statements",
	"max-rows":       "limits.max_rows",
	"lessons-dir":    "lessons.dir",
	"addr":           "server.addr",
	"grpc-addr":      "server.grpc_addr",
	"idle-timeout":   "server.idle_timeout",
}

// Load builds the configuration. cfgFile may be empty; flags may be nil.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path, err := findFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = path
	cfg.Engine = strings.ToLower(cfg.Engine)
	cfg.Output = strings.ToLower(cfg.Output)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns SQLQUEST_LIMITS__MAX_ROWS into limits.max_rows.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// Validate checks values that cannot be caught while decoding.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format))
	}
	if !slices.Contains(outputs, c.Output) {
		errs = append(errs, fmt.Errorf("output: unknown format %q (want one of %s)", c.Output, strings.Join(outputs, ", ")))
	}
	if c.Limits.Timeout < 0 || c.Limits.MaxStatements < 0 || c.Limits.MaxRows < 0 {
		errs = append(errs, errors.New("limits: values must not be negative"))
	}
	if c.Server.IdleTimeout < 0 {
		errs = append(errs, errors.New("server.idle_timeout: must not be negative"))
	}
	return errors.Join(errs...)
}

// SandboxLimits converts the limits section.
func (c *Config) SandboxLimits() sandbox.Limits {
	return sandbox.Limits{
		Timeout:       c.Limits.Timeout,
		MaxStatements: c.Limits.MaxStatements,
		MaxRows:       c.Limits.MaxRows,
	}
}

// ParseLevel parses debug, info, warn or error, ignoring case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
	return l, nil
}
