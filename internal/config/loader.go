package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	envparse "github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = "config"

// configType is the config file format.
const configType = "toml"

// envPrefix is the environment variable prefix for s2g settings
// (e.g. S2G_STUDIOMDL overrides the studiomdl key).
const envPrefix = "S2G"

// hostEnv holds variables read from the process environment that are not
// s2g-prefixed.
type hostEnv struct {
	// WinePrefix is the standard wine variable, used when config.toml and
	// S2G_WINEPREFIX leave wineprefix empty.
	WinePrefix string `env:"WINEPREFIX"`
}

// LoadToolPaths reads config.toml, S2G_* env vars, and defaults.
// If configPath is non-empty it must exist. Otherwise config.toml is searched
// next to the running binary and then in the CWD; a missing file is not an
// error and leaves relative paths resolved against the CWD.
func LoadToolPaths(configPath string) (ToolPaths, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return ToolPaths{}, fmt.Errorf("read config: %w", err)
		}
	}

	var p ToolPaths
	if err := v.Unmarshal(&p); err != nil {
		return ToolPaths{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" {
		p.BaseDir = filepath.Dir(used)
	} else if wd, err := os.Getwd(); err == nil {
		p.BaseDir = wd
	}

	if p.WinePrefix == "" {
		var he hostEnv
		if err := envparse.Parse(&he); err != nil {
			return ToolPaths{}, fmt.Errorf("parse environment: %w", err)
		}
		p.WinePrefix = he.WinePrefix
	}

	return p, nil
}

// LoadToolConfig is LoadToolPaths followed by [NewToolConfig], with an
// optional wineprefix override (from --wineprefix) applied in between.
func LoadToolConfig(configPath, winePrefixOverride string) (ToolConfig, error) {
	p, err := LoadToolPaths(configPath)
	if err != nil {
		return ToolConfig{}, err
	}
	if winePrefixOverride != "" {
		p.WinePrefix = winePrefixOverride
	}
	return NewToolConfig(p)
}

func applyDefaults(v *viper.Viper) {
	// Keys need a default so AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("crowbar", "")
	v.SetDefault("studiomdl", "")
	v.SetDefault("wineprefix", "")
	v.SetDefault("wine", "wine")
	v.SetDefault("material_dirs", []string{})
}
