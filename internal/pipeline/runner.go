package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/backmassage/s2g/internal/config"
	"github.com/backmassage/s2g/internal/display"
	"github.com/backmassage/s2g/internal/logging"
	"github.com/backmassage/s2g/internal/naming"
	"github.com/backmassage/s2g/internal/progress"
	"github.com/backmassage/s2g/internal/stage"
)

// ErrRunInProgress is returned by Start while another run on the same
// Coordinator has not finished.
var ErrRunInProgress = errors.New("a run is already in progress")

// maxFailureLines caps how much captured tool output is logged per failure.
// The progress channel always receives all of it.
const maxFailureLines = 20

// StageInvoker runs one stage on one item. *stage.Invoker satisfies it.
type StageInvoker interface {
	Invoke(ctx context.Context, id stage.ID, a *stage.Artifacts) error
}

// Coordinator runs batches of conversions with a fixed configuration.
type Coordinator struct {
	tools    config.ToolConfig
	policy   config.StepPolicy
	opts     config.RunOptions
	steps    []stage.ID
	log      *logging.Logger
	progress *progress.Channel
	invoker  StageInvoker
	runner   stage.Runner
	live     bool
	streamed bool // tool output already reaches the channel from the invoker
	busy     atomic.Bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets where run reports are logged. The default discards them.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithProgress sets the channel observers poll. The default is a fresh one.
func WithProgress(ch *progress.Channel) Option {
	return func(c *Coordinator) { c.progress = ch }
}

// WithInvoker replaces the built-in stages.
func WithInvoker(inv StageInvoker) Option {
	return func(c *Coordinator) { c.invoker = inv }
}

// WithRunner sets how the built-in stages spawn external tools.
func WithRunner(r stage.Runner) Option {
	return func(c *Coordinator) { c.runner = r }
}

// WithLiveToolOutput streams external tool output into the progress
// channel as it is produced. Without it, each tool's output is appended in
// one piece once the tool exits.
func WithLiveToolOutput() Option {
	return func(c *Coordinator) { c.live = true }
}

// New validates tools and returns a Coordinator. A failing validation is
// returned as a *config.ConfigError and no run can be started.
func New(tools config.ToolConfig, policy config.StepPolicy, opts config.RunOptions, options ...Option) (*Coordinator, error) {
	if err := tools.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		tools:  tools,
		policy: policy.Normalize(),
		opts:   opts,
	}
	for _, o := range options {
		o(c)
	}
	c.steps = stage.Effective(c.policy)
	if c.log == nil {
		c.log = logging.Discard()
	}
	if c.progress == nil {
		c.progress = progress.New()
	}
	if c.invoker == nil {
		env := stage.Env{
			Tools:  c.tools,
			Opts:   c.opts,
			Runner: c.runner,
			Info:   c.infof,
			Warn:   c.warnf,
		}
		if c.live {
			env.Out = c.progress.Writer()
		} else {
			env.Captured = c.toolOutput
		}
		c.streamed = true
		c.invoker = stage.NewInvoker(env)
	}
	return c, nil
}

// Progress returns the channel the coordinator reports to.
func (c *Coordinator) Progress() *progress.Channel { return c.progress }

// Steps returns the stages each item goes through, in order.
func (c *Coordinator) Steps() []stage.ID {
	return append([]stage.ID(nil), c.steps...)
}

// Run converts everything under root and blocks until done.
func (c *Coordinator) Run(ctx context.Context, root string) (RunResult, error) {
	return c.Start(ctx, root).Wait()
}

// run is the body of one batch. Discovery errors are fatal. Without Force
// the first failed item ends the batch and its error is returned along
// with the partial result.
func (c *Coordinator) run(ctx context.Context, root string) (RunResult, error) {
	start := time.Now()
	res := RunResult{DryRun: c.opts.DryRun}

	items, err := Discover(root, c.opts.IgnoreConverted)
	if err != nil {
		c.errorf("Discovery failed: %v", err)
		return res, err
	}
	res.Total = len(items)
	c.logBatchHeader(root, len(items))

	for i, path := range items {
		if ctx.Err() != nil {
			res.Interrupted = true
			c.warnf("Interrupted: %d of %d models not started", len(items)-i, len(items))
			break
		}
		ir := c.processItem(ctx, i, len(items), path)
		res.add(ir)
		if ir.Outcome == Failed && !c.opts.Force {
			res.Elapsed = time.Since(start)
			c.logSummary(&res)
			return res, ir.Err
		}
	}

	res.Elapsed = time.Since(start)
	c.logSummary(&res)
	return res, nil
}

// processItem runs the enabled stages on one model. A failing stage ends
// the item; later stages are not attempted.
func (c *Coordinator) processItem(ctx context.Context, i, n int, path string) ItemResult {
	begin := time.Now()
	ir := ItemResult{Path: path}
	a := stage.NewArtifacts(path, c.opts.AddSuffix)
	c.infof("[%d/%d] %s", i+1, n, filepath.Base(path))

	for _, id := range c.steps {
		if c.opts.DryRun {
			c.successf("  [DRY] would run %s", id)
			continue
		}
		c.log.Debug("  stage %s: %s", id, path)
		if err := c.invoker.Invoke(ctx, id, a); err != nil {
			ir.Outcome = Failed
			ir.Stage = id
			ir.Err = err
			ir.Elapsed = time.Since(begin)
			c.reportFailure(id, err)
			return ir
		}
	}

	ir.Outcome = Succeeded
	ir.MissingTextures = a.MissingTextures
	ir.Elapsed = time.Since(begin)
	if !c.opts.DryRun && containsStage(c.steps, stage.Compile) {
		ir.Output = a.Output
		if fi, err := os.Stat(a.Output); err == nil {
			ir.OutputBytes = fi.Size()
		}
	}
	if !c.opts.DryRun {
		c.successf("  done in %s", display.FormatDuration(ir.Elapsed))
	}
	return ir
}

// toolOutput appends a finished tool's output to the channel verbatim.
func (c *Coordinator) toolOutput(out string) {
	_, _ = io.WriteString(c.progress.Writer(), out)
	if !strings.HasSuffix(out, "\n") {
		c.progress.Write("")
	}
}

// reportFailure logs a failed stage and appends the tool's captured output
// to the progress channel verbatim, unless the invoker wrote it already.
func (c *Coordinator) reportFailure(id stage.ID, err error) {
	c.errorf("  %s failed: %v", id, err)
	var se *stage.Error
	if !errors.As(err, &se) || se.Output == "" {
		return
	}
	if !c.streamed {
		c.progress.Write(se.Output)
	}

	lines := strings.Split(strings.TrimSpace(se.Output), "\n")
	if len(lines) > maxFailureLines {
		lines = lines[len(lines)-maxFailureLines:]
	}
	c.log.Error("Last %s output:", id)
	for _, l := range lines {
		c.log.Error("  %s", l)
	}
}

func containsStage(steps []stage.ID, id stage.ID) bool {
	for _, s := range steps {
		if s == id {
			return true
		}
	}
	return false
}

// --- Reporting helpers: every line goes to the logger and the channel ---

func (c *Coordinator) infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Info("%s", msg)
	c.progress.Write(msg)
}

func (c *Coordinator) successf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Success("%s", msg)
	c.progress.Write(msg)
}

func (c *Coordinator) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Warn("%s", msg)
	c.progress.Write("WARN " + msg)
}

func (c *Coordinator) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Error("%s", msg)
	c.progress.Write("ERROR " + msg)
}

func (c *Coordinator) logBatchHeader(root string, n int) {
	c.infof("Found %d models in %s", n, root)
	names := make([]string, len(c.steps))
	for i, id := range c.steps {
		names[i] = id.String()
	}
	if len(names) == 0 {
		c.warnf("All stages disabled; nothing will run")
	} else {
		c.infof("Stages: %s", strings.Join(names, " > "))
	}
	if c.tools.NeedsWine() {
		c.infof("Wine: %s (prefix %s)", c.tools.Wine(), c.tools.WinePrefix())
	}
	if c.opts.Force {
		c.infof("Force: failures are recorded and the batch continues")
	}
	if c.opts.AddSuffix {
		c.infof("Output: <name>%s%s beside each input", naming.MarkerSuffix, naming.ModelExt)
	}
	if c.opts.DryRun {
		c.infof("Dry run: no tools will be spawned")
	}
}

func (c *Coordinator) logSummary(res *RunResult) {
	c.infof("==============================")
	c.infof("Total: %d  Converted: %d  Failed: %d", res.Total, res.Succeeded, res.Failed)
	if n := res.Total - len(res.Items); n > 0 {
		c.infof("Not attempted: %d", n)
	}
	for _, ir := range res.Failures() {
		c.errorf("  %s (%s)", filepath.Base(ir.Path), ir.Stage)
	}
	if b := res.OutputBytes(); b > 0 {
		c.infof("Output: %s", display.FormatBytes(b))
	}
	c.infof("Elapsed: %s", display.FormatDuration(res.Elapsed))
	c.infof("==============================")
}
