// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package config loads scripthost configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/logging"
	"github.com/grindstone/scripthost/internal/reload"
	"github.com/grindstone/scripthost/internal/script/core"
	scriptlua "github.com/grindstone/scripthost/internal/script/lua"
	"github.com/grindstone/scripthost/internal/xdg"
)

// Config is the complete scripthost configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Modules ModulesConfig `koanf:"modules"`
	Sandbox SandboxConfig `koanf:"sandbox"`
	Unload  UnloadConfig  `koanf:"unload"`
	Reload  ReloadConfig  `koanf:"reload"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// ModulesConfig controls where modules live and how they bind to the core
// library.
type ModulesConfig struct {
	Root        string   `koanf:"root"`
	OwnerField  string   `koanf:"owner_field" validate:"required,excludesall=."`
	CoreAliases []string `koanf:"core_aliases" validate:"min=1,dive,required"`
}

// SandboxConfig selects what module states can reach.
type SandboxConfig struct {
	Libraries      []string `koanf:"libraries" validate:"min=1,dive,oneof=base table string math coroutine"`
	BlockedGlobals []string `koanf:"blocked_globals" validate:"dive,required"`
}

// UnloadConfig bounds the collection passes of an unload.
type UnloadConfig struct {
	MaxPasses      int           `koanf:"max_passes" validate:"min=1,max=64"`
	PassInterval   time.Duration `koanf:"pass_interval" validate:"min=0"`
	ReleaseHandles bool          `koanf:"release_handles"`
}

// ReloadConfig controls the source watcher.
type ReloadConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Patterns []string      `koanf:"patterns" validate:"dive,required"`
	Debounce time.Duration `koanf:"debounce" validate:"min=0"`
}

// MetricsConfig controls the observability server. Addr is an IP:port
// pair; empty disables the server.
type MetricsConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,tcp_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Modules: ModulesConfig{
			Root:        xdg.ModulesDir(),
			OwnerField:  bridge.DefaultOwnerField,
			CoreAliases: []string{core.ModuleName},
		},
		Sandbox: SandboxConfig{
			Libraries: append([]string(nil), scriptlua.DefaultLibraries...),
		},
		Unload: UnloadConfig{
			MaxPasses:    bridge.DefaultUnloadMaxPasses,
			PassInterval: bridge.DefaultUnloadPassInterval,
		},
		Reload: ReloadConfig{
			Patterns: append([]string(nil), reload.DefaultPatterns...),
			Debounce: reload.DefaultDebounce,
		},
	}
}

// flagKeys maps command-line flag names to configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"log-level":              "log.level",
	"log-format":             "log.format",
	"modules-root":           "modules.root",
	"owner-field":            "modules.owner_field",
	"unload-max-passes":      "unload.max_passes",
	"unload-release-handles": "unload.release_handles",
	"watch":                  "reload.enabled",
	"metrics-addr":           "metrics.addr",
}

// RegisterFlags adds the configuration flags to fs with the built-in
// defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-level", d.Log.Level, "log level (trace, debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("modules-root", d.Modules.Root, "directory modules are discovered in")
	fs.String("owner-field", d.Modules.OwnerField, "instance field that receives the owning entity")
	fs.Int("unload-max-passes", d.Unload.MaxPasses, "collection passes per unload")
	fs.Bool("unload-release-handles", d.Unload.ReleaseHandles, "free a module's handles when it unloads")
	fs.Bool("watch", d.Reload.Enabled, "reload modules when their sources change")
	fs.String("metrics-addr", d.Metrics.Addr, "address for /metrics and health endpoints (empty disables)")
}

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// Path is the YAML file to read. Empty uses xdg.ConfigFile().
	Path string
	// Required makes a missing file an error.
	Required bool
	// Flags overrides file values with any flag the user set.
	Flags *pflag.FlagSet
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration from defaults, the config file and flags,
// then validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path := opts.Path
	if path == "" {
		path = xdg.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if opts.Required || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Decoding merges into the defaults element-wise; lists replace.
	if k.Exists("modules.core_aliases") {
		cfg.Modules.CoreAliases = k.Strings("modules.core_aliases")
	}
	if k.Exists("sandbox.libraries") {
		cfg.Sandbox.Libraries = k.Strings("sandbox.libraries")
	}
	if k.Exists("reload.patterns") {
		cfg.Reload.Patterns = k.Strings("reload.patterns")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Reload.Enabled {
		if _, err := reload.NewMatcher(c.Reload.Patterns); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// Bridge returns the session configuration.
func (c *Config) Bridge() bridge.Config {
	return bridge.Config{
		OwnerField:         c.Modules.OwnerField,
		CoreAliases:        append([]string(nil), c.Modules.CoreAliases...),
		UnloadMaxPasses:    c.Unload.MaxPasses,
		UnloadPassInterval: c.Unload.PassInterval,
		ReleaseHandles:     c.Unload.ReleaseHandles,
		Libraries:          append([]string(nil), c.Sandbox.Libraries...),
		BlockedGlobals:     append([]string(nil), c.Sandbox.BlockedGlobals...),
	}
}

// Logging returns the logger options for service at version.
func (c *Config) Logging(service, version string) logging.Options {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.Options{
		Service: service,
		Version: version,
		Format:  c.Log.Format,
		Level:   level,
	}
}

// Watcher returns the reload watcher options.
func (c *Config) Watcher() reload.Options {
	return reload.Options{
		Patterns: append([]string(nil), c.Reload.Patterns...),
		Debounce: c.Reload.Debounce,
	}
}
