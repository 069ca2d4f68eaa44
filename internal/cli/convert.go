package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backmassage/s2g/internal/check"
	"github.com/backmassage/s2g/internal/config"
	"github.com/backmassage/s2g/internal/display"
	"github.com/backmassage/s2g/internal/pipeline"
	"github.com/backmassage/s2g/internal/progress"
	"github.com/backmassage/s2g/internal/stage"
)

// pollInterval is how often the progress channel is drained to stdout.
const pollInterval = 100 * time.Millisecond

type convertOptions struct {
	path       string
	winePrefix string
	skip       config.SkipFlags
	only       []string
	run        config.RunOptions
	toolOutput bool
	noBanner   bool
}

func newConvertCommand(a *app) *cobra.Command {
	o := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert [path]",
		Short: "Convert a .mdl file or every .mdl under a directory",
		Example: `  s2g convert --path models/props/crate.mdl
  s2g convert models/ --force --add-suffix --ignore-converted`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.path = args[0]
			}
			if o.path == "" {
				return errors.New("a path is required (--path or positional argument)")
			}
			o.path = config.NormalizeDirArg(o.path)
			return runConvert(cmd.Context(), a, o)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.path, "path", "p", "", "Model file or directory to convert")
	fs.StringVar(&o.winePrefix, "wineprefix", "", "WINEPREFIX override")
	fs.BoolVar(&o.toolOutput, "tool-output", false, "Stream crowbar and studiomdl output as it is produced")
	fs.BoolVar(&o.noBanner, "no-banner", false, "Do not print the banner")
	fs.StringSliceVar(&o.only, "only", nil, "Run only these stages (e.g. vtf,bmp); overrides --no-* switches")
	config.BindStepFlags(fs, &o.skip)
	config.BindRunFlags(fs, &o.run)
	return cmd
}

func runConvert(ctx context.Context, a *app, o *convertOptions) error {
	tools, err := config.LoadToolConfig(a.settings.ConfigPath, o.winePrefix)
	if err != nil {
		a.log.Error("%v", err)
		return err
	}
	if !o.run.DryRun {
		if err := check.CheckDeps(ctx, tools); err != nil {
			a.log.Error("%v", err)
			return err
		}
	}

	ch := progress.New()
	options := []pipeline.Option{
		pipeline.WithLogger(a.log.FileOnly()),
		pipeline.WithProgress(ch),
	}
	if o.toolOutput {
		options = append(options, pipeline.WithLiveToolOutput())
	}
	policy := o.skip.Apply(config.DefaultStepPolicy())
	if len(o.only) > 0 {
		if policy, err = stage.PolicyOf(o.only); err != nil {
			return err
		}
	}
	coord, err := pipeline.New(tools, policy, o.run, options...)
	if err != nil {
		a.log.Error("%v", err)
		return err
	}

	if !o.noBanner {
		display.PrintBanner(a.stdout)
	}
	if o.run.DryRun {
		a.log.Warn("DRY RUN")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := coord.Start(ctx, o.path)
	follow(h, a.stdout, pollInterval)
	res, err := h.Wait()
	if err != nil {
		var we *pipeline.WalkError
		if errors.As(err, &we) {
			return err
		}
	}

	display.PrintSummary(a.stdout, summaryOf(res))
	return exitStatus(res, err, o.run.Force)
}

// follow copies new progress text to w until the run is done.
func follow(h *pipeline.Handle, w io.Writer, every time.Duration) {
	tail := progress.NewTail(h.Progress())
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.Done():
			_, _ = io.WriteString(w, tail.Next())
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, tail.Next())
		}
	}
}

// exitStatus decides whether the run counts as a success: every item
// succeeded, or force was set and the batch ran to the end.
func exitStatus(res pipeline.RunResult, err error, force bool) error {
	switch {
	case err != nil:
		return err
	case res.Interrupted:
		return ErrInterrupted
	case res.Failed > 0 && !force:
		return res.Failures()[0].Err
	}
	return nil
}

func summaryOf(res pipeline.RunResult) display.Summary {
	s := display.Summary{
		Total:        res.Total,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		NotAttempted: res.Total - len(res.Items),
		Interrupted:  res.Interrupted,
		DryRun:       res.DryRun,
		OutputBytes:  res.OutputBytes(),
		Elapsed:      res.Elapsed,
	}
	for _, ir := range res.Items {
		name := filepath.Base(ir.Path)
		if ir.Outcome == pipeline.Failed {
			s.Failures = append(s.Failures, display.Failure{Name: name, Stage: ir.Stage.String(), Err: errorText(ir.Err)})
		}
		if len(ir.MissingTextures) > 0 {
			if s.Missing == nil {
				s.Missing = make(map[string][]string)
			}
			s.Missing[name] = ir.MissingTextures
		}
	}
	return s
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	// The stage error repeats stage and path; the summary already shows both.
	if u := errors.Unwrap(err); u != nil {
		return u.Error()
	}
	return err.Error()
}
