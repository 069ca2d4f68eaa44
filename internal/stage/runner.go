package stage

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/backmassage/s2g/internal/config"
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // added to the inherited environment
}

// Runner executes external commands. out receives stdout and stderr as
// they are produced.
type Runner interface {
	Run(ctx context.Context, cmd Command, out io.Writer) error
}

// ExecRunner runs commands with os/exec.
//
// A started tool always runs to completion: cancellation of ctx is not
// propagated to the child, so a stopped batch never leaves a half-written
// model behind.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command, out io.Writer) error {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// toolCommand wraps a Windows tool for the host: through Wine with
// WINEPREFIX set when the config needs it, directly otherwise.
func toolCommand(tools config.ToolConfig, exe, dir string, args ...string) Command {
	if !tools.NeedsWine() {
		return Command{Name: exe, Args: args, Dir: dir}
	}
	return Command{
		Name: tools.Wine(),
		Args: append([]string{exe}, args...),
		Dir:  dir,
		Env:  []string{"WINEPREFIX=" + tools.WinePrefix()},
	}
}

// runTool runs c and returns the captured text alongside the error. The
// output is teed to env.Out live, or handed to env.Captured after exit.
func runTool(ctx context.Context, env *Env, c Command) (string, error) {
	var captured bytes.Buffer
	w := io.Writer(&captured)
	if env.Out != nil {
		w = io.MultiWriter(&captured, env.Out)
	}
	err := env.Runner.Run(ctx, c, w)
	out := captured.String()
	if env.Out == nil && env.Captured != nil && out != "" {
		env.Captured(out)
	}
	return out, err
}
