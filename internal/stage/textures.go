package stage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/backmassage/s2g/internal/assemble"
	"github.com/backmassage/s2g/internal/naming"
	"github.com/backmassage/s2g/internal/texture"
)

type vtfStage struct{}

func (vtfStage) ID() ID { return VTF }

// Run converts every reachable VTF to PNG in GoldSrcDir. Search order, first
// claim of a texture name wins: the work directory, the input's own
// directory, then the configured material directories (only for materials
// the model references). A texture the decoder cannot read is skipped with
// a warning; the assemble stage then reports it missing.
func (vtfStage) Run(_ context.Context, env *Env, a *Artifacts) error {
	if err := os.MkdirAll(a.GoldSrcDir, 0o755); err != nil {
		return fail(VTF, a.GoldSrcDir, "", err)
	}

	var sources []string
	found, err := listFiles(a.WorkDir, ".vtf", true, a.GoldSrcDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(VTF, a.WorkDir, "", err)
	}
	sources = append(sources, found...)
	found, err = listFiles(filepath.Dir(a.Input), ".vtf", false, "")
	if err != nil {
		return fail(VTF, filepath.Dir(a.Input), "", err)
	}
	sources = append(sources, found...)
	sources = append(sources, materialSources(env, a)...)

	claims := naming.NewClaimSet()
	for _, src := range sources {
		name := naming.Stem(src)
		if !claims.Claim(name, src) {
			continue
		}
		dst := filepath.Join(a.GoldSrcDir, name+".png")
		info, err := texture.ConvertVTFToPNG(src, dst)
		switch {
		case errors.Is(err, texture.ErrUnsupportedFormat),
			errors.Is(err, texture.ErrNotVTF),
			errors.Is(err, texture.ErrTruncated):
			env.warn("  skipped %s: %v", filepath.Base(src), err)
			continue
		case err != nil:
			return fail(VTF, src, "", err)
		}
		a.PNGs = append(a.PNGs, dst)
		env.info("  %s -> %s (%s %dx%d)", filepath.Base(src), filepath.Base(dst), info.Format, info.Width, info.Height)
	}
	if len(a.PNGs) == 0 {
		env.warn("  no VTF textures found for %s", filepath.Base(a.Input))
	}
	return nil
}

// materialSources resolves referenced materials against the configured
// material directories, trying each $cdmaterials path and the root.
func materialSources(env *Env, a *Artifacts) []string {
	dirs := env.Tools.MaterialDirs()
	if len(dirs) == 0 {
		return nil
	}
	qcPath, err := a.FindSourceQC()
	if err != nil {
		return nil
	}
	q, err := assemble.LoadQC(qcPath)
	if err != nil {
		env.warn("  material lookup skipped: %v", err)
		return nil
	}
	materials, err := q.Materials()
	if err != nil {
		env.warn("  material lookup skipped: %v", err)
		return nil
	}

	cds := append(append([]string{}, q.CDMaterials...), "")
	var out []string
	for _, m := range materials {
		for _, dir := range dirs {
			for _, cd := range cds {
				p := filepath.Join(dir, filepath.FromSlash(cd), m+".vtf")
				if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

type bmpStage struct{}

func (bmpStage) ID() ID { return BMP }

// Run converts every PNG in GoldSrcDir to an 8-bit BMP.
func (bmpStage) Run(_ context.Context, env *Env, a *Artifacts) error {
	pngs, err := listFiles(a.GoldSrcDir, ".png", false, "")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(BMP, a.GoldSrcDir, "", err)
	}
	for _, src := range pngs {
		dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".bmp"
		size, err := texture.ConvertPNGToBMP(src, dst)
		if err != nil {
			return fail(BMP, src, "", err)
		}
		a.BMPs = append(a.BMPs, dst)
		env.info("  %s (%dx%d)", filepath.Base(dst), size.X, size.Y)
	}
	return nil
}

type assembleStage struct{}

func (assembleStage) ID() ID { return Assemble }

// Run writes the GoldSrc QC and SMDs into GoldSrcDir.
func (assembleStage) Run(_ context.Context, env *Env, a *Artifacts) error {
	qcPath, err := a.FindSourceQC()
	if err != nil {
		return fail(Assemble, a.WorkDir, "", err)
	}
	q, err := assemble.LoadQC(qcPath)
	if err != nil {
		return fail(Assemble, qcPath, "", err)
	}
	if err := os.MkdirAll(a.GoldSrcDir, 0o755); err != nil {
		return fail(Assemble, a.GoldSrcDir, "", err)
	}
	res, err := assemble.Assemble(q, a.GoldSrcDir, assemble.Options{
		Stem:      a.Stem(),
		Flatshade: env.Opts.Flatshade,
	})
	if err != nil {
		return fail(Assemble, qcPath, "", err)
	}
	a.GoldSrcQC = res.QCPath
	a.MissingTextures = res.MissingTextures
	env.info("  assembled: %s (%d meshes, %d textures)", filepath.Base(res.QCPath), len(res.Meshes), len(res.Textures))
	for _, t := range res.MissingTextures {
		env.warn("  missing texture: %s.bmp", t)
	}
	return nil
}

// listFiles returns files with ext (case-insensitive) under dir, sorted.
// skip names a directory to prune when recursing.
func listFiles(dir, ext string, recursive bool, skip string) ([]string, error) {
	var out []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
		return out, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skip != "" && path == skip {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
