// File: config/load.go
// Package config
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// YAML and environment loading. Environment variables use the RUDP prefix
// with '.' and '-' replaced by '_', e.g. RUDP_SOCKET_MAXIMUM_MTU=1400.

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-rudp/api"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RUDP"

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Config is the root file layout.
type Config struct {
	Socket SocketConfig `mapstructure:"socket"`
	Log    LogConfig    `mapstructure:"log"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Socket: *DefaultSocketConfig(),
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty) and applies environment
// overrides. The socket section is not validated here; call
// GetInvalidConfiguration on the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	defaults := map[string]any{}
	if err := mapstructure.Decode(cfg, &defaults); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	seedDefaults(v, "", defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		channelTypeHook,
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func seedDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			seedDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

var channelTypeKind = reflect.TypeOf(api.ChannelType(0))

// channelTypeHook accepts channel types by name ("reliable_ordered").
func channelTypeHook(from, to reflect.Type, data any) (any, error) {
	if to != channelTypeKind || from.Kind() != reflect.String {
		return data, nil
	}
	t, ok := api.ParseChannelType(data.(string))
	if !ok {
		return nil, fmt.Errorf("unknown channel type %q", data)
	}
	return t, nil
}
