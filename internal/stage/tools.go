package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/backmassage/s2g/internal/config"
	"github.com/backmassage/s2g/internal/naming"
	"github.com/backmassage/s2g/internal/probe"
)

// hostPath converts an absolute host path into what the tool sees. Under
// Wine the host root is mounted as drive Z:.
func hostPath(tools config.ToolConfig, p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if !tools.NeedsWine() || !strings.HasPrefix(p, "/") {
		return p
	}
	return "Z:" + strings.ReplaceAll(p, "/", `\`)
}

type decompileStage struct{}

func (decompileStage) ID() ID { return Decompile }

// Run decompiles the model into WorkDir and requires a .qc to come out.
// Inputs whose header is already GoldSrc are refused before the decompiler
// starts; a header too short to read is left for the decompiler to judge.
func (decompileStage) Run(ctx context.Context, env *Env, a *Artifacts) error {
	info, err := probe.Probe(a.Input)
	switch {
	case info != nil && info.Engine != probe.EngineUnknown:
		if err := info.RequireSource(); err != nil {
			return fail(Decompile, a.Input, "", err)
		}
		if info.Name != "" {
			env.info("  %s", info)
		}
	case errors.Is(err, probe.ErrTruncated):
		env.warn("  %s: %v", filepath.Base(a.Input), probe.ErrTruncated)
	case err != nil:
		return fail(Decompile, a.Input, "", err)
	}

	if err := os.MkdirAll(a.WorkDir, 0o755); err != nil {
		return fail(Decompile, a.Input, "", err)
	}
	cmd := toolCommand(env.Tools, env.Tools.Crowbar(), a.WorkDir,
		"-p", hostPath(env.Tools, a.Input),
		"-o", hostPath(env.Tools, a.WorkDir))
	out, err := runTool(ctx, env, cmd)
	if err != nil {
		return fail(Decompile, a.Input, out, err)
	}

	a.SourceQC = ""
	qc, err := a.FindSourceQC()
	if err != nil {
		return fail(Decompile, a.Input, out, err)
	}
	env.info("  decompiled: %s", filepath.Base(qc))
	return nil
}

type compileStage struct{}

func (compileStage) ID() ID { return Compile }

// Run compiles the assembled QC inside GoldSrcDir and moves the model to
// its final location.
func (compileStage) Run(ctx context.Context, env *Env, a *Artifacts) error {
	if _, err := os.Stat(a.GoldSrcQC); err != nil {
		return fail(Compile, a.GoldSrcQC, "", err)
	}
	built := filepath.Join(a.GoldSrcDir, naming.CompiledName(a.Input))
	if err := os.Remove(built); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(Compile, built, "", err)
	}

	cmd := toolCommand(env.Tools, env.Tools.Studiomdl(), a.GoldSrcDir, hostPath(env.Tools, a.GoldSrcQC))
	out, err := runTool(ctx, env, cmd)
	if err != nil {
		return fail(Compile, a.Input, out, err)
	}
	if _, err := os.Stat(built); err != nil {
		return fail(Compile, a.Input, out, fmt.Errorf("%w: %s", ErrNoOutput, filepath.Base(built)))
	}

	if built != a.Output {
		if err := os.MkdirAll(filepath.Dir(a.Output), 0o755); err != nil {
			return fail(Compile, a.Output, out, err)
		}
		if err := os.Rename(built, a.Output); err != nil {
			return fail(Compile, a.Output, out, err)
		}
	}
	env.info("  compiled: %s", a.Output)
	return nil
}
