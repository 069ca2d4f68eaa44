package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Sentinel errors wrapped by [ConfigError].
var (
	ErrToolPathEmpty      = errors.New("path is empty")
	ErrToolNotFound       = errors.New("not found")
	ErrToolIsDir          = errors.New("is a directory")
	ErrWinePrefixRequired = errors.New("wineprefix is required on this host")
)

// hostGOOS is the operating system the tools run on. Tests override it.
var hostGOOS = runtime.GOOS

// ConfigError reports a missing or invalid tool configuration value. It is
// always fatal: a run never starts with a ConfigError outstanding.
type ConfigError struct {
	Field string // config.toml key, e.g. "crowbar".
	Value string // The offending value as configured.
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ToolPaths is the raw tool section of config.toml, before resolution.
// Relative paths are resolved against BaseDir.
type ToolPaths struct {
	Crowbar      string   `mapstructure:"crowbar"`
	Studiomdl    string   `mapstructure:"studiomdl"`
	WinePrefix   string   `mapstructure:"wineprefix"`
	Wine         string   `mapstructure:"wine"`
	MaterialDirs []string `mapstructure:"material_dirs"`

	BaseDir string `mapstructure:"-"`
}

// ToolConfig is the resolved, validated tool configuration for a run.
// It is immutable once built by [NewToolConfig] and safe to share.
type ToolConfig struct {
	crowbar      string
	studiomdl    string
	winePrefix   string
	wine         string
	materialDirs []string
	needsWine    bool
}

// NewToolConfig resolves every path in p and checks that the tools exist.
// On hosts that cannot execute the Windows tools natively, WinePrefix and
// a wine binary are required as well. Any failure is a [*ConfigError].
func NewToolConfig(p ToolPaths) (ToolConfig, error) {
	var tc ToolConfig
	var err error

	if tc.crowbar, err = resolveFile("crowbar", p.Crowbar, p.BaseDir); err != nil {
		return ToolConfig{}, err
	}
	if tc.studiomdl, err = resolveFile("studiomdl", p.Studiomdl, p.BaseDir); err != nil {
		return ToolConfig{}, err
	}

	for _, dir := range p.MaterialDirs {
		resolved, err := resolveDir("material_dirs", dir, p.BaseDir)
		if err != nil {
			return ToolConfig{}, err
		}
		tc.materialDirs = append(tc.materialDirs, resolved)
	}

	tc.needsWine = hostGOOS != "windows"
	if !tc.needsWine {
		return tc, nil
	}

	if strings.TrimSpace(p.WinePrefix) == "" {
		return ToolConfig{}, &ConfigError{Field: "wineprefix", Err: ErrWinePrefixRequired}
	}
	tc.winePrefix = p.WinePrefix

	wine := p.Wine
	if wine == "" {
		wine = "wine"
	}
	if tc.wine, err = resolveExecutable("wine", wine, p.BaseDir); err != nil {
		return ToolConfig{}, err
	}
	return tc, nil
}

// Crowbar returns the absolute path of the decompiler.
func (t ToolConfig) Crowbar() string { return t.crowbar }

// Studiomdl returns the absolute path of the GoldSrc compiler.
func (t ToolConfig) Studiomdl() string { return t.studiomdl }

// WinePrefix returns the platform runtime identifier, empty on native hosts.
func (t ToolConfig) WinePrefix() string { return t.winePrefix }

// Wine returns the resolved wine binary, empty on native hosts.
func (t ToolConfig) Wine() string { return t.wine }

// NeedsWine reports whether the tools must be launched through wine.
func (t ToolConfig) NeedsWine() bool { return t.needsWine }

// MaterialDirs returns a copy of the extra texture search roots.
func (t ToolConfig) MaterialDirs() []string {
	return append([]string(nil), t.materialDirs...)
}

// Validate re-checks that the resolved tools still exist. A zero ToolConfig
// (never built by NewToolConfig) fails here.
func (t ToolConfig) Validate() error {
	if _, err := statFile("crowbar", t.crowbar); err != nil {
		return err
	}
	if _, err := statFile("studiomdl", t.studiomdl); err != nil {
		return err
	}
	if t.needsWine {
		if t.winePrefix == "" {
			return &ConfigError{Field: "wineprefix", Err: ErrWinePrefixRequired}
		}
		if _, err := statFile("wine", t.wine); err != nil {
			return err
		}
	}
	return nil
}

// resolveFile makes path absolute (relative to base), resolves symlinks,
// and requires a regular file.
func resolveFile(field, path, base string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &ConfigError{Field: field, Err: ErrToolPathEmpty}
	}
	if !filepath.IsAbs(path) && base != "" {
		path = filepath.Join(base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ConfigError{Field: field, Value: path, Err: err}
	}
	return statFile(field, abs)
}

func resolveDir(field, path, base string) (string, error) {
	if !filepath.IsAbs(path) && base != "" {
		path = filepath.Join(base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ConfigError{Field: field, Value: path, Err: err}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", &ConfigError{Field: field, Value: abs, Err: ErrToolNotFound}
	}
	if !fi.IsDir() {
		return "", &ConfigError{Field: field, Value: abs, Err: errors.New("not a directory")}
	}
	return abs, nil
}

// resolveExecutable accepts either a path (contains a separator) or a bare
// command name looked up on PATH.
func resolveExecutable(field, name, base string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return resolveFile(field, name, base)
	}
	found, err := exec.LookPath(name)
	if err != nil {
		return "", &ConfigError{Field: field, Value: name, Err: ErrToolNotFound}
	}
	return found, nil
}

func statFile(field, path string) (string, error) {
	if path == "" {
		return "", &ConfigError{Field: field, Err: ErrToolPathEmpty}
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", &ConfigError{Field: field, Value: path, Err: ErrToolNotFound}
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", &ConfigError{Field: field, Value: path, Err: ErrToolNotFound}
	}
	if fi.IsDir() {
		return "", &ConfigError{Field: field, Value: path, Err: ErrToolIsDir}
	}
	return resolved, nil
}
