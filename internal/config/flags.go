package config

// This file registers the CLI flags that map onto Settings, StepPolicy and
// RunOptions. Stage switches are negated (--no-vtf) and applied after parsing
// so the all-enabled defaults hold unless the user passes the flag.

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// SkipFlags captures the negated stage switches until [SkipFlags.Apply].
type SkipFlags struct {
	noDecompile bool
	noVTF       bool
	noBMP       bool
	noAssemble  bool
	noCompile   bool
}

// BindSettingsFlags registers the global flags (config, log, color).
func BindSettingsFlags(fs *pflag.FlagSet, s *Settings) {
	fs.StringVarP(&s.ConfigPath, "config", "c", s.ConfigPath, "Path to config.toml (default: next to the binary, then CWD)")
	fs.StringVarP(&s.LogFile, "log", "l", s.LogFile, "Append logs to file")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Log level (debug, info, warn, error)")
	fs.Var(&colorModeValue{&s.ColorMode}, "color", "Color output: auto | always | never")
}

// BindStepFlags registers --no-<stage> switches.
func BindStepFlags(fs *pflag.FlagSet, n *SkipFlags) {
	fs.BoolVarP(&n.noDecompile, "no-decompile", "d", false, "Skip decompiling (crowbar)")
	fs.BoolVarP(&n.noVTF, "no-vtf", "v", false, "Skip converting .vtf to .png")
	fs.BoolVarP(&n.noBMP, "no-bmp", "b", false, "Skip converting .png to .bmp")
	fs.BoolVarP(&n.noAssemble, "no-assemble", "a", false, "Skip rewriting .qc and .smd (ignored when compiling)")
	fs.BoolVar(&n.noCompile, "no-compile", false, "Skip compiling the model (studiomdl)")
}

// BindRunFlags registers the run behavior switches.
func BindRunFlags(fs *pflag.FlagSet, o *RunOptions) {
	fs.BoolVarP(&o.Force, "force", "f", o.Force, "Continue with the next model when one fails")
	fs.BoolVar(&o.AddSuffix, "add-suffix", o.AddSuffix, "Write <name>_goldsrc.mdl beside the input")
	fs.BoolVar(&o.IgnoreConverted, "ignore-converted", o.IgnoreConverted, "Skip models already named *_goldsrc.mdl")
	fs.BoolVar(&o.Flatshade, "flatshade", o.Flatshade, "Flatshade every texture")
	fs.BoolVarP(&o.DryRun, "dry-run", "n", o.DryRun, "Preview the stages; run nothing")
}

// Apply turns the captured switches into a policy. The result is not yet
// normalized; see [StepPolicy.Normalize].
func (n *SkipFlags) Apply(p StepPolicy) StepPolicy {
	if n.noDecompile {
		p.Decompile = false
	}
	if n.noVTF {
		p.VTF = false
	}
	if n.noBMP {
		p.BMP = false
	}
	if n.noAssemble {
		p.Assemble = false
	}
	if n.noCompile {
		p.Compile = false
	}
	return p
}

// colorModeValue adapts ColorMode to pflag.Value.
type colorModeValue struct{ p *ColorMode }

func (c *colorModeValue) String() string { return string(*c.p) }
func (c *colorModeValue) Type() string   { return "mode" }
func (c *colorModeValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "auto":
		*c.p = ColorAuto
	case "always":
		*c.p = ColorAlways
	case "never":
		*c.p = ColorNever
	default:
		return fmt.Errorf("invalid color mode %q (use 'auto', 'always' or 'never')", s)
	}
	return nil
}
