// Package config holds runtime configuration: CLI settings, the per-run
// step policy and options, and the tool paths loaded from config.toml.
package config

import (
	"errors"
	"strings"
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// Settings holds process-level settings that do not affect what a pipeline
// run produces: where config.toml lives and how output is rendered.
type Settings struct {
	ConfigPath string    // Explicit config.toml; empty means search next to the binary, then CWD.
	LogFile    string    // Optional log file path (appended).
	LogLevel   string    // debug | info | warn | error. Default: "info".
	ColorMode  ColorMode // Default: "auto".
}

// DefaultSettings returns the settings used before flags are applied.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:  "info",
		ColorMode: ColorAuto,
	}
}

// Validate checks enum fields.
func (s *Settings) Validate() error {
	switch s.ColorMode {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return errors.New("invalid color mode (use 'auto', 'always' or 'never')")
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return errors.New("invalid log level (use debug, info, warn or error)")
	}
}

// StepPolicy enables or disables each conversion stage. All stages are
// enabled by default. Compile depends on assemble; see [StepPolicy.Normalize].
type StepPolicy struct {
	Decompile bool // Run the decompiler on the source model.
	VTF       bool // Convert discovered .vtf textures to .png.
	BMP       bool // Convert .png textures to 8-bit .bmp.
	Assemble  bool // Rewrite the decompiled QC/SMD set for the GoldSrc compiler.
	Compile   bool // Run the GoldSrc compiler.
}

// DefaultStepPolicy enables every stage.
func DefaultStepPolicy() StepPolicy {
	return StepPolicy{
		Decompile: true,
		VTF:       true,
		BMP:       true,
		Assemble:  true,
		Compile:   true,
	}
}

// Normalize returns p with the compile implies assemble rule applied.
func (p StepPolicy) Normalize() StepPolicy {
	if p.Compile {
		p.Assemble = true
	}
	return p
}

// RunOptions are the per-run behavior switches.
type RunOptions struct {
	Force           bool // Record per-item failures and continue with the next model.
	AddSuffix       bool // Name compiled models <stem>_goldsrc.mdl beside the input.
	IgnoreConverted bool // Skip inputs whose name already carries the marker suffix.
	Flatshade       bool // Emit $texrendermode flatshade for every texture.
	DryRun          bool // Log the stages that would run; spawn nothing.
}

// NormalizeDirArg strips trailing slashes from a path argument.
// The filesystem root "/" is returned unchanged so we don't produce an empty string.
func NormalizeDirArg(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimRight(path, "/")
}
