package stage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/backmassage/s2g/internal/config"
)

// Env is what every stage needs besides the item itself.
type Env struct {
	Tools  config.ToolConfig
	Opts   config.RunOptions
	Runner Runner
	// Out receives external tool output verbatim as it is produced.
	Out io.Writer
	// Captured receives a tool's whole output once it exits, success or
	// failure. It is only used when Out is nil.
	Captured func(output string)
	// Info and Warn report stage notes; nil drops them.
	Info func(format string, args ...any)
	Warn func(format string, args ...any)
}

func (e *Env) info(format string, args ...any) {
	if e.Info != nil {
		e.Info(format, args...)
	}
}

func (e *Env) warn(format string, args ...any) {
	if e.Warn != nil {
		e.Warn(format, args...)
	}
}

// Stage is one conversion step.
type Stage interface {
	ID() ID
	Run(ctx context.Context, env *Env, a *Artifacts) error
}

// Invoker dispatches stage IDs to their implementations.
type Invoker struct {
	env    *Env
	stages map[ID]Stage
}

// NewInvoker registers the built-in stages. A nil Runner defaults to
// ExecRunner.
func NewInvoker(env Env) *Invoker {
	if env.Runner == nil {
		env.Runner = ExecRunner{}
	}
	inv := &Invoker{env: &env, stages: make(map[ID]Stage)}
	for _, s := range []Stage{decompileStage{}, vtfStage{}, bmpStage{}, assembleStage{}, compileStage{}} {
		inv.Register(s)
	}
	return inv
}

// Register installs s, replacing any stage with the same ID.
func (inv *Invoker) Register(s Stage) {
	inv.stages[s.ID()] = s
}

// Invoke runs stage id on a. Any failure is returned as a *Error.
func (inv *Invoker) Invoke(ctx context.Context, id ID, a *Artifacts) error {
	s, ok := inv.stages[id]
	if !ok {
		return fail(id, a.Input, "", fmt.Errorf("%w: %s", ErrUnknownStage, id))
	}
	err := s.Run(ctx, inv.env, a)
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return fail(id, a.Input, "", err)
}
