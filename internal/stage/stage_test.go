package stage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/s2g/internal/config"
	"github.com/backmassage/s2g/internal/naming"
	"github.com/backmassage/s2g/internal/probe"
)

// --- Policy ---

func TestEffective(t *testing.T) {
	tests := []struct {
		name string
		p    config.StepPolicy
		want []ID
	}{
		{"all", config.DefaultStepPolicy(), []ID{Decompile, VTF, BMP, Assemble, Compile}},
		{"none", config.StepPolicy{}, []ID{}},
		{"compile only brings assemble", config.StepPolicy{Compile: true}, []ID{Assemble, Compile}},
		{"textures only", config.StepPolicy{VTF: true, BMP: true}, []ID{VTF, BMP}},
		{"skip decompile", config.StepPolicy{VTF: true, BMP: true, Assemble: true, Compile: true}, []ID{VTF, BMP, Assemble, Compile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Effective(tt.p))
		})
	}
}

func TestEffective_EveryPolicyIsOrderedAndNeverCompilesAlone(t *testing.T) {
	for mask := 0; mask < 32; mask++ {
		p := config.StepPolicy{
			Decompile: mask&1 != 0,
			VTF:       mask&2 != 0,
			BMP:       mask&4 != 0,
			Assemble:  mask&8 != 0,
			Compile:   mask&16 != 0,
		}
		got := Effective(p)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i], "mask %05b", mask)
		}
		if p.Compile {
			assert.Contains(t, got, Assemble, "mask %05b", mask)
		}
	}
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "decompile", Decompile.String())
	assert.Equal(t, "compile", Compile.String())
	assert.Equal(t, "stage(7)", ID(7).String())

	id, err := ParseID("BMP")
	require.NoError(t, err)
	assert.Equal(t, BMP, id)
	_, err = ParseID("render")
	assert.Error(t, err)
}

func TestPolicyOf(t *testing.T) {
	p, err := PolicyOf([]string{"vtf", " BMP"})
	require.NoError(t, err)
	assert.Equal(t, config.StepPolicy{VTF: true, BMP: true}, p)
	assert.Equal(t, []ID{VTF, BMP}, Effective(p))

	_, err = PolicyOf([]string{"vtf", "render"})
	assert.ErrorContains(t, err, "render")
}

// --- Fixtures ---

func touch(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func newTools(t *testing.T, materialDirs ...string) config.ToolConfig {
	t.Helper()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "crowbar.exe"), "")
	touch(t, filepath.Join(dir, "studiomdl.exe"), "")
	wine := touch(t, filepath.Join(dir, "bin", "wine"), "#!/bin/sh\n")
	tc, err := config.NewToolConfig(config.ToolPaths{
		Crowbar:      "crowbar.exe",
		Studiomdl:    "studiomdl.exe",
		WinePrefix:   "/opt/prefix",
		Wine:         wine,
		MaterialDirs: materialDirs,
		BaseDir:      dir,
	})
	require.NoError(t, err)
	return tc
}

type vtfHeader72 struct {
	Signature     [4]byte
	Version       [2]uint32
	HeaderSize    uint32
	Width, Height uint16
	Flags         uint32
	Frames        uint16
	FirstFrame    uint16
	Pad0          [4]byte
	Reflectivity  [3]float32
	Pad1          [4]byte
	BumpmapScale  float32
	HighResFormat int32
	MipmapCount   uint8
	LowResFormat  int32
	LowResWidth   uint8
	LowResHeight  uint8
	Depth         uint16
}

// writeVTF writes a 16x16 RGBA8888 texture of one colour.
func writeVTF(t *testing.T, path string, rgba [4]byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, vtfHeader72{
		Signature:    [4]byte{'V', 'T', 'F', 0},
		Version:      [2]uint32{7, 2},
		HeaderSize:   80,
		Width:        16,
		Height:       16,
		Frames:       1,
		MipmapCount:  1,
		LowResFormat: -1,
		Depth:        1,
	}))
	buf.Write(make([]byte, 80-buf.Len()))
	buf.Write(bytes.Repeat(rgba[:], 16*16))
	touch(t, path, buf.String())
}

const testQC = `$modelname "props/crate.mdl"
$cdmaterials "models\props\"
$body "studio" "crate_ref"
$sequence "idle" "crate_ref" fps 30
`

const testSMD = `version 1
nodes
  0 "root" -1
end
skeleton
time 0
  0 0 0 0 0 0 0
end
triangles
models/props/crate
  0 0 0 0 0 0 1 0 0 1 0 1.0
  0 1 0 0 0 0 1 1 0 1 0 1.0
  0 0 1 0 0 0 1 0 1 1 0 1.0
end
`

// fakeRunner plays crowbar and studiomdl: it records every command and
// writes the files the real tools would.
type fakeRunner struct {
	mu    sync.Mutex
	tools config.ToolConfig
	calls []Command

	decompile func(dir string, out io.Writer) error
	compile   func(dir string, out io.Writer) error
}

func newFakeRunner(tools config.ToolConfig) *fakeRunner {
	return &fakeRunner{
		tools: tools,
		decompile: func(dir string, out io.Writer) error {
			fmt.Fprintln(out, "crowbar: decompiling")
			if err := os.WriteFile(filepath.Join(dir, "crate.qc"), []byte(testQC), 0o644); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(dir, "crate_ref.smd"), []byte(testSMD), 0o644)
		},
		compile: func(dir string, out io.Writer) error {
			fmt.Fprintln(out, "studiomdl: writing crate.mdl")
			return os.WriteFile(filepath.Join(dir, "crate.mdl"), []byte("IDST"), 0o644)
		},
	}
}

func (f *fakeRunner) Run(_ context.Context, c Command, out io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	exe := c.Name
	if f.tools.NeedsWine() {
		exe = c.Args[0]
	}
	switch exe {
	case f.tools.Crowbar():
		return f.decompile(c.Dir, out)
	case f.tools.Studiomdl():
		return f.compile(c.Dir, out)
	}
	return fmt.Errorf("unexpected command %q", exe)
}

type recorder struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (r *recorder) env(tools config.ToolConfig, runner Runner, out io.Writer) Env {
	return Env{
		Tools:  tools,
		Runner: runner,
		Out:    out,
		Info: func(format string, args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.infos = append(r.infos, fmt.Sprintf(format, args...))
		},
		Warn: func(format string, args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.warns = append(r.warns, fmt.Sprintf(format, args...))
		},
	}
}

// modelHeader is a studio header: ident, version, checksum for Source,
// then the internal name and declared length.
func modelHeader(version int32, name string) string {
	var buf bytes.Buffer
	buf.WriteString("IDST")
	_ = binary.Write(&buf, binary.LittleEndian, version)
	if version != 10 {
		_ = binary.Write(&buf, binary.LittleEndian, int32(0))
	}
	var n [64]byte
	copy(n[:], name)
	buf.Write(n[:])
	_ = binary.Write(&buf, binary.LittleEndian, int32(buf.Len()+4))
	return buf.String()
}

func newInput(t *testing.T) string {
	t.Helper()
	return touch(t, filepath.Join(t.TempDir(), "models", "crate.mdl"), modelHeader(48, "props/crate.mdl"))
}

// --- Invoker ---

func TestInvoker_FullChain(t *testing.T) {
	tools := newTools(t)
	runner := newFakeRunner(tools)
	input := newInput(t)
	writeVTF(t, filepath.Join(filepath.Dir(input), "crate.vtf"), [4]byte{200, 10, 10, 255})

	var progress bytes.Buffer
	var rec recorder
	inv := NewInvoker(rec.env(tools, runner, &progress))
	a := NewArtifacts(input, true)

	for _, id := range Order {
		require.NoError(t, inv.Invoke(context.Background(), id, a), "stage %s", id)
	}

	assert.Equal(t, filepath.Join(filepath.Dir(input), "crate_goldsrc.mdl"), a.Output)
	assert.FileExists(t, a.Output)
	assert.NoFileExists(t, filepath.Join(a.GoldSrcDir, "crate.mdl"), "model is moved, not copied")
	assert.Len(t, a.PNGs, 1)
	assert.Len(t, a.BMPs, 1)
	assert.Empty(t, a.MissingTextures)
	assert.Equal(t, naming.GoldSrcQC(input), a.GoldSrcQC)

	smd, err := os.ReadFile(filepath.Join(a.GoldSrcDir, "crate_ref.smd"))
	require.NoError(t, err)
	assert.Contains(t, string(smd), "\ncrate.bmp\n")

	assert.Contains(t, progress.String(), "crowbar: decompiling")
	assert.Contains(t, progress.String(), "studiomdl: writing crate.mdl")
	require.Len(t, runner.calls, 2)
	assert.Equal(t, a.WorkDir, runner.calls[0].Dir)
	assert.Equal(t, a.GoldSrcDir, runner.calls[1].Dir)
	assert.Empty(t, rec.warns)
}

func TestInvoker_CapturedGetsOutputAfterEachTool(t *testing.T) {
	tools := newTools(t)
	input := newInput(t)
	var rec recorder
	env := rec.env(tools, newFakeRunner(tools), nil)
	var got []string
	env.Captured = func(out string) { got = append(got, out) }
	inv := NewInvoker(env)
	a := NewArtifacts(input, false)

	for _, id := range []ID{Decompile, Assemble, Compile} {
		require.NoError(t, inv.Invoke(context.Background(), id, a))
	}
	assert.Equal(t, []string{"crowbar: decompiling\n", "studiomdl: writing crate.mdl\n"}, got)
}

func TestInvoker_CapturedUnusedWhenStreaming(t *testing.T) {
	tools := newTools(t)
	var live bytes.Buffer
	var rec recorder
	env := rec.env(tools, newFakeRunner(tools), &live)
	called := false
	env.Captured = func(string) { called = true }
	a := NewArtifacts(newInput(t), false)

	require.NoError(t, NewInvoker(env).Invoke(context.Background(), Decompile, a))
	assert.False(t, called)
	assert.Equal(t, "crowbar: decompiling\n", live.String())
}

func TestInvoker_OutputStaysInWorkDirWithoutSuffix(t *testing.T) {
	tools := newTools(t)
	input := newInput(t)
	var rec recorder
	inv := NewInvoker(rec.env(tools, newFakeRunner(tools), nil))
	a := NewArtifacts(input, false)

	for _, id := range []ID{Decompile, Assemble, Compile} {
		require.NoError(t, inv.Invoke(context.Background(), id, a))
	}
	assert.FileExists(t, filepath.Join(a.WorkDir, "crate.mdl"))
	assert.Equal(t, []string{"crate"}, a.MissingTextures)
	assert.NotEmpty(t, rec.warns)
}

func TestInvoker_DecompileFailureCarriesToolOutput(t *testing.T) {
	tools := newTools(t)
	runner := newFakeRunner(tools)
	runner.decompile = func(_ string, out io.Writer) error {
		fmt.Fprint(out, "Unhandled exception: bad header")
		return errors.New("exit status 1")
	}
	var progress bytes.Buffer
	var rec recorder
	inv := NewInvoker(rec.env(tools, runner, &progress))

	err := inv.Invoke(context.Background(), Decompile, NewArtifacts(newInput(t), false))

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Decompile, se.Stage)
	assert.Equal(t, "Unhandled exception: bad header", se.Output)
	assert.Equal(t, "Unhandled exception: bad header", progress.String())
}

func TestInvoker_DecompileRefusesGoldSrcInput(t *testing.T) {
	tools := newTools(t)
	runner := newFakeRunner(tools)
	var rec recorder
	inv := NewInvoker(rec.env(tools, runner, nil))
	input := touch(t, filepath.Join(t.TempDir(), "crate_goldsrc.mdl"), modelHeader(10, "crate.mdl"))

	err := inv.Invoke(context.Background(), Decompile, NewArtifacts(input, false))
	assert.ErrorIs(t, err, probe.ErrNotSource)
	assert.NoDirExists(t, naming.WorkDir(input), "decompiler never started")
}

func TestInvoker_DecompileToleratesShortHeader(t *testing.T) {
	tools := newTools(t)
	runner := newFakeRunner(tools)
	var rec recorder
	inv := NewInvoker(rec.env(tools, runner, nil))
	input := touch(t, filepath.Join(t.TempDir(), "crate.mdl"), "IDST")

	require.NoError(t, inv.Invoke(context.Background(), Decompile, NewArtifacts(input, false)))
	require.NotEmpty(t, rec.warns)
	assert.Contains(t, rec.warns[0], "truncated")
}

func TestInvoker_DecompileWithoutQC(t *testing.T) {
	tools := newTools(t)
	runner := newFakeRunner(tools)
	runner.decompile = func(string, io.Writer) error { return nil }
	var rec recorder
	inv := NewInvoker(rec.env(tools, runner, nil))

	err := inv.Invoke(context.Background(), Decompile, NewArtifacts(newInput(t), false))
	assert.ErrorIs(t, err, ErrNoQC)
}

func TestInvoker_CompileWithoutModel(t *testing.T) {
	tools := newTools(t)
	runner := newFakeRunner(tools)
	runner.compile = func(string, io.Writer) error { return nil }
	var rec recorder
	inv := NewInvoker(rec.env(tools, runner, nil))
	a := NewArtifacts(newInput(t), false)

	require.NoError(t, inv.Invoke(context.Background(), Decompile, a))
	require.NoError(t, inv.Invoke(context.Background(), Assemble, a))
	err := inv.Invoke(context.Background(), Compile, a)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Compile, se.Stage)
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestInvoker_AssembleWithoutDecompiledQC(t *testing.T) {
	tools := newTools(t)
	var rec recorder
	inv := NewInvoker(rec.env(tools, newFakeRunner(tools), nil))

	err := inv.Invoke(context.Background(), Assemble, NewArtifacts(newInput(t), false))
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Assemble, se.Stage)
	assert.ErrorIs(t, err, ErrNoQC)
}

func TestInvoker_UnknownStage(t *testing.T) {
	var rec recorder
	inv := NewInvoker(rec.env(newTools(t), nil, nil))
	err := inv.Invoke(context.Background(), ID(42), NewArtifacts(newInput(t), false))
	assert.ErrorIs(t, err, ErrUnknownStage)
}

type plainStage struct{ id ID }

func (p plainStage) ID() ID { return p.id }
func (plainStage) Run(context.Context, *Env, *Artifacts) error { return errors.New("plain") }

func TestInvoker_WrapsPlainErrors(t *testing.T) {
	var rec recorder
	inv := NewInvoker(rec.env(newTools(t), nil, nil))
	inv.Register(plainStage{BMP})

	err := inv.Invoke(context.Background(), BMP, NewArtifacts(newInput(t), false))
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, BMP, se.Stage)
	assert.EqualError(t, se.Err, "plain")
}

// --- Texture search ---

func readPixel(t *testing.T, path string) (r, g, b uint32) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	r, g, b, _ = img.At(0, 0).RGBA()
	return r >> 8, g >> 8, b >> 8
}

func TestVTF_WorkDirWinsOverInputDir(t *testing.T) {
	tools := newTools(t)
	input := newInput(t)
	a := NewArtifacts(input, false)
	writeVTF(t, filepath.Join(a.WorkDir, "materials", "crate.vtf"), [4]byte{0, 255, 0, 255})
	writeVTF(t, filepath.Join(filepath.Dir(input), "CRATE.vtf"), [4]byte{255, 0, 0, 255})

	var rec recorder
	inv := NewInvoker(rec.env(tools, nil, nil))
	require.NoError(t, inv.Invoke(context.Background(), VTF, a))

	require.Len(t, a.PNGs, 1)
	r, g, _ := readPixel(t, a.PNGs[0])
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(255), g)
}

func TestVTF_MaterialDirsResolveReferencedMaterials(t *testing.T) {
	matRoot := t.TempDir()
	writeVTF(t, filepath.Join(matRoot, "models", "props", "crate.vtf"), [4]byte{1, 2, 3, 255})
	writeVTF(t, filepath.Join(matRoot, "models", "props", "unused.vtf"), [4]byte{1, 2, 3, 255})
	tools := newTools(t, matRoot)

	input := newInput(t)
	a := NewArtifacts(input, false)
	touch(t, filepath.Join(a.WorkDir, "crate.qc"), testQC)
	touch(t, filepath.Join(a.WorkDir, "crate_ref.smd"), testSMD)

	var rec recorder
	inv := NewInvoker(rec.env(tools, nil, nil))
	require.NoError(t, inv.Invoke(context.Background(), VTF, a))

	require.Len(t, a.PNGs, 1)
	assert.Equal(t, "crate.png", filepath.Base(a.PNGs[0]))
}

func TestVTF_UndecodableTextureIsSkipped(t *testing.T) {
	tools := newTools(t)
	input := newInput(t)
	touch(t, filepath.Join(filepath.Dir(input), "broken.vtf"), "not a texture")

	var rec recorder
	inv := NewInvoker(rec.env(tools, nil, nil))
	a := NewArtifacts(input, false)
	require.NoError(t, inv.Invoke(context.Background(), VTF, a))

	assert.Empty(t, a.PNGs)
	require.NotEmpty(t, rec.warns)
	assert.Contains(t, rec.warns[0], "broken.vtf")
}

func TestFindSourceQC_PrefersModelNameAndSkipsGoldSrcDir(t *testing.T) {
	a := NewArtifacts(newInput(t), false)
	touch(t, filepath.Join(a.GoldSrcDir, "crate.qc"), "")
	touch(t, filepath.Join(a.WorkDir, "a_other.qc"), "")
	touch(t, filepath.Join(a.WorkDir, "sub", "crate.qc"), "")

	qc, err := a.FindSourceQC()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.WorkDir, "sub", "crate.qc"), qc)
}

// --- Runner ---

func TestToolCommand(t *testing.T) {
	tools := newTools(t)
	c := toolCommand(tools, tools.Crowbar(), "/work", "-p", "x.mdl")

	if tools.NeedsWine() {
		assert.Equal(t, tools.Wine(), c.Name)
		assert.Equal(t, []string{tools.Crowbar(), "-p", "x.mdl"}, c.Args)
		assert.Equal(t, []string{"WINEPREFIX=/opt/prefix"}, c.Env)
		assert.Equal(t, `Z:\opt\models\crate.mdl`, hostPath(tools, "/opt/models/crate.mdl"))
	} else {
		assert.Equal(t, tools.Crowbar(), c.Name)
		assert.Empty(t, c.Env)
	}
	assert.Equal(t, "/work", c.Dir)
}

func TestExecRunner_IgnoresCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := ExecRunner{}.Run(ctx, Command{
		Name: "/bin/sh",
		Args: []string{"-c", `echo "$S2G_TEST"; echo err >&2`},
		Env:  []string{"S2G_TEST=started"},
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "started")
	assert.True(t, strings.Contains(out.String(), "err"), "stderr is captured too")
}
