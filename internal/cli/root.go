// Package cli defines the s2g command-line interface.
package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/backmassage/s2g/internal/config"
	"github.com/backmassage/s2g/internal/logging"
	"github.com/backmassage/s2g/internal/term"
)

// Sentinel errors that map to a failing exit status without further
// explanation; the details were already logged.
var (
	ErrInterrupted = errors.New("interrupted")
	ErrCheckFailed = errors.New("system check found problems")
)

// BuildInfo identifies the binary; set at link time in main.
type BuildInfo struct {
	Version string
	Commit  string
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	settings config.Settings
	build    BuildInfo
	stdout   io.Writer
	stderr   io.Writer
	log      *logging.Logger
}

// Execute builds the root command, runs it with args and returns any
// error. Console logs go to stderr; progress and summaries to stdout.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, build BuildInfo) error {
	a := &app{
		settings: config.DefaultSettings(),
		build:    build,
		stdout:   stdout,
		stderr:   stderr,
	}
	defer func() { _ = a.log.Close() }()

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "s2g",
		Short:         "Convert Source engine models to GoldSrc",
		Long:          "s2g decompiles Source .mdl files, converts their textures and recompiles them for the GoldSrc engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := a.settings.Validate(); err != nil {
				return err
			}
			colors := term.Configure(a.settings.ColorMode)
			log, err := logging.New(logging.Options{
				Console: a.stderr,
				NoColor: !colors,
				Level:   a.settings.LogLevel,
				LogFile: a.settings.LogFile,
			})
			if err != nil {
				return err
			}
			a.log = log
			a.log.Debug("config=%q log=%q level=%s", a.settings.ConfigPath, a.settings.LogFile, a.settings.LogLevel)
			return nil
		},
	}

	config.BindSettingsFlags(cmd.PersistentFlags(), &a.settings)

	cmd.AddCommand(
		newConvertCommand(a),
		newCheckCommand(a),
		newVersionCommand(a),
	)
	return cmd
}
