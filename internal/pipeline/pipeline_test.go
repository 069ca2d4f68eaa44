package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/s2g/internal/config"
	"github.com/backmassage/s2g/internal/progress"
	"github.com/backmassage/s2g/internal/stage"
)

// --- Fixtures ---

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o755))
	return path
}

func newTools(t *testing.T) config.ToolConfig {
	t.Helper()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "crowbar.exe"))
	touch(t, filepath.Join(dir, "studiomdl.exe"))
	wine := touch(t, filepath.Join(dir, "wine"))
	tc, err := config.NewToolConfig(config.ToolPaths{
		Crowbar:    "crowbar.exe",
		Studiomdl:  "studiomdl.exe",
		WinePrefix: "/opt/prefix",
		Wine:       wine,
		BaseDir:    dir,
	})
	require.NoError(t, err)
	return tc
}

type call struct {
	Item  string
	Stage stage.ID
}

// fakeInvoker records calls and fails the configured item at the
// configured stage. With a gate, every call first waits for a token.
type fakeInvoker struct {
	mu     sync.Mutex
	calls  []call
	failOn map[string]stage.ID
	gate   chan struct{}
}

func (f *fakeInvoker) Invoke(_ context.Context, id stage.ID, a *stage.Artifacts) error {
	if f.gate != nil {
		<-f.gate
	}
	name := filepath.Base(a.Input)
	f.mu.Lock()
	f.calls = append(f.calls, call{name, id})
	f.mu.Unlock()
	if s, ok := f.failOn[name]; ok && s == id {
		return &stage.Error{Stage: id, Path: a.Input, Output: "studiomdl: bad smd line 4\n", Err: errors.New("exit status 1")}
	}
	return nil
}

func (f *fakeInvoker) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func threeModels(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range []string{"a.mdl", "b.mdl", "c.mdl"} {
		touch(t, filepath.Join(root, n))
	}
	return root
}

func newCoordinator(t *testing.T, policy config.StepPolicy, opts config.RunOptions, inv StageInvoker) *Coordinator {
	t.Helper()
	c, err := New(newTools(t), policy, opts, WithInvoker(inv))
	require.NoError(t, err)
	return c
}

// --- Discover ---

func TestDiscover_DirectoryYieldsOnlyModels(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "one.mdl"))
	touch(t, filepath.Join(root, "sub", "two.MDL"))
	touch(t, filepath.Join(root, "sub", "deep", "three.mdl"))
	touch(t, filepath.Join(root, "readme.txt"))
	touch(t, filepath.Join(root, "sub", "skin.vtf"))

	got, err := Discover(root, false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{
		filepath.Join(root, "one.mdl"),
		filepath.Join(root, "sub", "deep", "three.mdl"),
		filepath.Join(root, "sub", "two.MDL"),
	}, got)
}

func TestDiscover_IgnoreConvertedAndWorkDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "crate.mdl"))
	touch(t, filepath.Join(root, "crate_goldsrc.mdl"))
	touch(t, filepath.Join(root, "crate_s2g", "crate.mdl"))
	touch(t, filepath.Join(root, "weapons_s2g", "rifle.mdl"))

	all, err := Discover(root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "crate.mdl"),
		filepath.Join(root, "crate_goldsrc.mdl"),
		filepath.Join(root, "weapons_s2g", "rifle.mdl"),
	}, all, "a folder is only a work dir when its model sits beside it")

	fresh, err := Discover(root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "crate.mdl"),
		filepath.Join(root, "weapons_s2g", "rifle.mdl"),
	}, fresh)
}

func TestDiscover_SingleFile(t *testing.T) {
	root := t.TempDir()
	model := touch(t, filepath.Join(root, "gun.mdl"))
	other := touch(t, filepath.Join(root, "gun.qc"))
	marked := touch(t, filepath.Join(root, "gun_goldsrc.mdl"))

	got, err := Discover(model, false)
	require.NoError(t, err)
	assert.Equal(t, []string{model}, got)

	got, err = Discover(other, false)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Discover(marked, true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscover_MissingRootIsWalkError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := Discover(missing, false)
	var we *WalkError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, missing, we.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Discover("", false)
	assert.ErrorAs(t, err, &we)
}

// --- Coordinator ---

func TestNew_InvalidToolsIsConfigError(t *testing.T) {
	_, err := New(config.ToolConfig{}, config.DefaultStepPolicy(), config.RunOptions{})
	var ce *config.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestRun_WithoutForceStopsAtFirstFailure(t *testing.T) {
	root := threeModels(t)
	inv := &fakeInvoker{failOn: map[string]stage.ID{"b.mdl": stage.VTF}}
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{}, inv)

	res, err := c.Run(context.Background(), root)

	var se *stage.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, stage.VTF, se.Stage)

	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, Succeeded, res.Items[0].Outcome)
	assert.Equal(t, Failed, res.Items[1].Outcome)
	assert.Equal(t, stage.VTF, res.Items[1].Stage)
	_, attempted := res.Lookup(filepath.Join(root, "c.mdl"))
	assert.False(t, attempted)
	assert.False(t, res.OK())

	for _, cl := range inv.Calls() {
		assert.NotEqual(t, "c.mdl", cl.Item)
		if cl.Item == "b.mdl" {
			assert.LessOrEqual(t, cl.Stage, stage.VTF, "stages after the failure must not run")
		}
	}
	assert.Contains(t, c.Progress().Snapshot(), "studiomdl: bad smd line 4\n")
}

func TestRun_ForceRecordsEveryItem(t *testing.T) {
	root := threeModels(t)
	inv := &fakeInvoker{failOn: map[string]stage.ID{"b.mdl": stage.Compile}}
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{Force: true}, inv)

	res, err := c.Run(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	b, ok := res.Lookup(filepath.Join(root, "b.mdl"))
	require.True(t, ok)
	assert.Equal(t, Failed, b.Outcome)
	assert.Equal(t, stage.Compile, b.Stage)
	require.Len(t, res.Failures(), 1)

	cItem, ok := res.Lookup(filepath.Join(root, "c.mdl"))
	require.True(t, ok)
	assert.Equal(t, Succeeded, cItem.Outcome)
	assert.Contains(t, c.Progress().Snapshot(), "bad smd line 4")
}

func TestRun_CompileOnlyRunsAssembleFirst(t *testing.T) {
	root := t.TempDir()
	model := touch(t, filepath.Join(root, "m.mdl"))
	inv := &fakeInvoker{}
	c := newCoordinator(t, config.StepPolicy{Compile: true}, config.RunOptions{}, inv)

	res, err := c.Run(context.Background(), model)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []call{{"m.mdl", stage.Assemble}, {"m.mdl", stage.Compile}}, inv.Calls())
	assert.Equal(t, []stage.ID{stage.Assemble, stage.Compile}, c.Steps())
}

func TestRun_DryRunInvokesNothing(t *testing.T) {
	root := threeModels(t)
	inv := &fakeInvoker{}
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{DryRun: true}, inv)

	res, err := c.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, inv.Calls())
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.Succeeded)
	assert.Contains(t, c.Progress().Snapshot(), "[DRY] would run decompile")
}

func TestRun_EmptyRootSucceeds(t *testing.T) {
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{}, &fakeInvoker{})
	res, err := c.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.True(t, res.OK())
}

func TestRun_WalkErrorIsFatal(t *testing.T) {
	inv := &fakeInvoker{}
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{Force: true}, inv)
	_, err := c.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	var we *WalkError
	assert.ErrorAs(t, err, &we)
	assert.Empty(t, inv.Calls())
	assert.Contains(t, c.Progress().Snapshot(), "Discovery failed")
}

// --- Handle ---

func TestStart_RunningUntilDone(t *testing.T) {
	root := threeModels(t)
	inv := &fakeInvoker{gate: make(chan struct{})}
	ch := progress.New()
	c, err := New(newTools(t), config.DefaultStepPolicy(), config.RunOptions{}, WithInvoker(inv), WithProgress(ch))
	require.NoError(t, err)

	h := c.Start(context.Background(), root)
	assert.True(t, ch.IsRunning())
	assert.False(t, h.IsDone())
	assert.Same(t, ch, h.Progress())

	second := c.Start(context.Background(), root)
	_, err = second.Wait()
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.True(t, ch.IsRunning(), "a rejected start must not disturb the active run")

	close(inv.gate)
	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.False(t, ch.IsRunning())
	assert.True(t, h.IsDone())
	assert.True(t, h.IsDone())
}

func TestStart_StopEndsAfterCurrentItem(t *testing.T) {
	root := threeModels(t)
	inv := &fakeInvoker{gate: make(chan struct{})}
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{}, inv)

	h := c.Start(context.Background(), root)
	inv.gate <- struct{}{}
	h.Stop()
	close(inv.gate)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Len(t, res.Items, 1)
	assert.False(t, res.OK())
}

// panicInvoker blows up on the first stage it is asked to run.
type panicInvoker struct{}

func (panicInvoker) Invoke(context.Context, stage.ID, *stage.Artifacts) error {
	panic("stage exploded")
}

func TestStart_PanicClearsRunning(t *testing.T) {
	root := threeModels(t)
	ch := progress.New()
	c, err := New(newTools(t), config.DefaultStepPolicy(), config.RunOptions{},
		WithInvoker(panicInvoker{}), WithProgress(ch))
	require.NoError(t, err)

	h := c.Start(context.Background(), root)
	_, err = h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage exploded")
	assert.False(t, ch.IsRunning())
	assert.True(t, h.IsDone())
	assert.Contains(t, ch.Snapshot(), "pipeline panic")

	again := c.Start(context.Background(), t.TempDir())
	_, err = again.Wait()
	assert.NotErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, err)
}

func TestStart_CanRunAgainAfterDone(t *testing.T) {
	root := threeModels(t)
	c := newCoordinator(t, config.DefaultStepPolicy(), config.RunOptions{}, &fakeInvoker{})

	_, err := c.Run(context.Background(), root)
	require.NoError(t, err)
	first := c.Progress().Snapshot()

	_, err = c.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, strings.Count(first, "[1/3]"), strings.Count(c.Progress().Snapshot(), "[1/3]"), "progress is reset per run")
}

// --- Built-in stages end to end ---

const e2eQC = `$modelname "props/crate.mdl"
$cdmaterials "models/props/"
$body "body" "crate_ref"
$sequence "idle" "crate_ref" fps 30
`

const e2eSMD = `version 1
nodes
0 "root" -1
end
skeleton
time 0
0 0 0 0 0 0 0
end
triangles
crate
0 0 0 0 0 0 1 0 0
0 1 0 0 0 0 1 1 0
0 0 1 0 0 0 1 0 1
end
`

// toolRunner plays crowbar and studiomdl on the filesystem. With
// failCompile, studiomdl prints its banner and exits non-zero.
type toolRunner struct {
	mu          sync.Mutex
	cmds        []stage.Command
	failCompile bool
}

func (r *toolRunner) Run(_ context.Context, c stage.Command, out io.Writer) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	r.mu.Unlock()

	exe := filepath.Base(c.Args[0])
	switch exe {
	case "crowbar.exe":
		if err := os.WriteFile(filepath.Join(c.Dir, "crate.qc"), []byte(e2eQC), 0o644); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(c.Dir, "crate_ref.smd"), []byte(e2eSMD), 0o644)
	case "studiomdl.exe":
		qc := strings.ReplaceAll(c.Args[len(c.Args)-1], `\`, "/")
		name := strings.TrimSuffix(filepath.Base(qc), ".qc") + ".mdl"
		if r.failCompile {
			_, _ = io.WriteString(out, "ERROR: too many bones\n")
			return errors.New("exit status 1")
		}
		_, _ = io.WriteString(out, "writing "+name+"\n")
		return os.WriteFile(filepath.Join(c.Dir, name), []byte("IDST"), 0o644)
	}
	return errors.New("unexpected tool " + exe)
}

func TestRun_BuiltInStagesEndToEnd(t *testing.T) {
	root := t.TempDir()
	model := touch(t, filepath.Join(root, "crate.mdl"))
	runner := &toolRunner{}
	c, err := New(newTools(t), config.DefaultStepPolicy(), config.RunOptions{AddSuffix: true}, WithRunner(runner))
	require.NoError(t, err)

	done := make(chan struct{})
	var res RunResult
	go func() {
		defer close(done)
		res, err = c.Run(context.Background(), root)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	require.NoError(t, err)

	item, ok := res.Lookup(model)
	require.True(t, ok)
	require.Equal(t, Succeeded, item.Outcome, "%v", item.Err)
	assert.Equal(t, filepath.Join(root, "crate_goldsrc.mdl"), item.Output)
	assert.Equal(t, int64(4), item.OutputBytes)
	assert.Equal(t, []string{"crate"}, item.MissingTextures)
	assert.FileExists(t, filepath.Join(root, "crate_s2g", "goldsrc", "crate.qc"))
	assert.Len(t, runner.cmds, 2)

	snap := c.Progress().Snapshot()
	assert.Contains(t, snap, "missing texture: crate.bmp")
	assert.Equal(t, 1, strings.Count(snap, "writing crate.mdl"), "successful tool output is kept")
	assert.Less(t, strings.Index(snap, "writing crate.mdl"), strings.Index(snap, "compiled:"))
}

func TestRun_FailedToolOutputAppearsOnce(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "crate.mdl"))
	c, err := New(newTools(t), config.DefaultStepPolicy(), config.RunOptions{},
		WithRunner(&toolRunner{failCompile: true}))
	require.NoError(t, err)

	res, err := c.Run(context.Background(), root)
	var se *stage.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, stage.Compile, se.Stage)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, strings.Count(c.Progress().Snapshot(), "ERROR: too many bones"))
}

func TestRun_LiveToolOutput(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "crate.mdl"))
	c, err := New(newTools(t), config.DefaultStepPolicy(), config.RunOptions{},
		WithRunner(&toolRunner{}), WithLiveToolOutput())
	require.NoError(t, err)

	res, err := c.Run(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, strings.Count(c.Progress().Snapshot(), "writing crate.mdl"))
}
