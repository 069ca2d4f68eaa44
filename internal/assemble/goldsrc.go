package assemble

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/backmassage/s2g/internal/naming"
)

// ErrNoMeshes is returned for a QC that declares no body meshes.
var ErrNoMeshes = errors.New("QC declares no body meshes")

// Options controls GoldSrc QC generation.
type Options struct {
	// Stem names the compiled model: $modelname is "<Stem>.mdl".
	Stem      string
	Flatshade bool
}

// Result lists what Assemble wrote.
type Result struct {
	QCPath          string
	Meshes          []string
	Textures        []string
	MissingTextures []string
}

// Assemble rewrites every mesh q references into outDir and writes
// "<Stem>.qc" beside them. Texture references resolve against the .bmp
// files already in outDir; unresolved ones are listed in MissingTextures
// and left as "<name>.bmp".
func Assemble(q *SourceQC, outDir string, opts Options) (Result, error) {
	if len(q.ReferenceMeshes()) == 0 {
		return Result{}, ErrNoMeshes
	}
	bmps, err := indexBMPs(outDir)
	if err != nil {
		return Result{}, err
	}
	mapper := func(material string) string {
		name := naming.TextureName(material) + ".bmp"
		if actual, ok := bmps[strings.ToLower(name)]; ok {
			return actual
		}
		return name
	}

	var res Result
	seen := make(map[string]bool)
	for _, m := range q.Meshes() {
		src := filepath.Join(q.Dir(), filepath.FromSlash(m))
		dst := filepath.Join(outDir, filepath.FromSlash(m))
		textures, err := rewriteFile(src, dst, mapper)
		if err != nil {
			return res, err
		}
		res.Meshes = append(res.Meshes, dst)
		for _, t := range textures {
			key := strings.ToLower(t)
			if seen[key] {
				continue
			}
			seen[key] = true
			res.Textures = append(res.Textures, t)
			if _, ok := bmps[key+".bmp"]; !ok {
				res.MissingTextures = append(res.MissingTextures, t)
			}
		}
	}

	res.QCPath = filepath.Join(outDir, opts.Stem+".qc")
	f, err := os.Create(res.QCPath)
	if err != nil {
		return res, err
	}
	if err := WriteQC(f, q, opts, textureFiles(res.Textures, mapper)); err != nil {
		f.Close()
		return res, err
	}
	return res, f.Close()
}

// Materials returns the distinct texture names the reference meshes use,
// read from the decompiled SMDs beside the QC.
func (q *SourceQC) Materials() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, m := range q.ReferenceMeshes() {
		f, err := os.Open(filepath.Join(q.Dir(), filepath.FromSlash(m)))
		if err != nil {
			return nil, err
		}
		textures, err := RewriteSMD(f, io.Discard, nil)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("mesh %s: %w", m, err)
		}
		for _, t := range textures {
			if !seen[strings.ToLower(t)] {
				seen[strings.ToLower(t)] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func textureFiles(textures []string, mapper MaterialMapper) []string {
	out := make([]string, len(textures))
	for i, t := range textures {
		out[i] = mapper(t)
	}
	return out
}

func indexBMPs(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".bmp") {
			out[strings.ToLower(e.Name())] = e.Name()
		}
	}
	return out, nil
}

func rewriteFile(src, dst string, mapper MaterialMapper) ([]string, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	textures, err := RewriteSMD(in, out, mapper)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("mesh %s: %w", filepath.Base(src), err)
	}
	return textures, out.Close()
}

// WriteQC emits the GoldSrc QC for q. textures are the .bmp file names
// used for $texrendermode when Flatshade is set.
func WriteQC(w io.Writer, q *SourceQC, opts Options, textures []string) error {
	bw := bufio.NewWriter(w)
	if q.Path != "" {
		fmt.Fprintf(bw, "// converted from %s\n", filepath.Base(q.Path))
	}
	fmt.Fprintf(bw, "$modelname %q\n", opts.Stem+naming.ModelExt)
	fmt.Fprintln(bw, `$cd "."`)
	fmt.Fprintln(bw, `$cdtexture "."`)
	fmt.Fprintf(bw, "$scale %s\n", formatNum(q.Scale))
	fmt.Fprintln(bw)

	for _, b := range q.Bodies {
		fmt.Fprintf(bw, "$body %q %q\n", b.Name, studioRef(b.File))
	}
	for _, g := range q.BodyGroups {
		fmt.Fprintf(bw, "$bodygroup %q\n{\n", g.Name)
		for _, f := range g.Files {
			if f == "" {
				fmt.Fprintln(bw, "\tblank")
			} else {
				fmt.Fprintf(bw, "\tstudio %q\n", studioRef(f))
			}
		}
		fmt.Fprintln(bw, "}")
	}
	fmt.Fprintln(bw)

	seqs := q.Sequences
	if len(seqs) == 0 {
		// studiomdl refuses a model without sequences; use the reference mesh.
		seqs = []Sequence{{Name: "idle", File: q.ReferenceMeshes()[0]}}
	}
	for _, s := range seqs {
		fmt.Fprintf(bw, "$sequence %q %q", s.Name, studioRef(s.File))
		if s.FPS > 0 {
			fmt.Fprintf(bw, " fps %s", formatNum(s.FPS))
		}
		if s.Loop {
			fmt.Fprint(bw, " loop")
		}
		fmt.Fprintln(bw)
	}

	if opts.Flatshade && len(textures) > 0 {
		fmt.Fprintln(bw)
		for _, t := range textures {
			fmt.Fprintf(bw, "$texrendermode %q flatshade\n", t)
		}
	}
	return bw.Flush()
}

func studioRef(file string) string {
	if strings.EqualFold(filepath.Ext(file), ".smd") {
		return file[:len(file)-len(".smd")]
	}
	return file
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
