package stage

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/backmassage/s2g/internal/naming"
)

// Artifacts is the per-item state stages read and extend.
type Artifacts struct {
	Input      string // source .mdl
	WorkDir    string // decompiler output
	GoldSrcDir string // compiler working directory
	Output     string // final compiled model location

	SourceQC  string // decompiled QC; found lazily when decompile is skipped
	GoldSrcQC string // assembled QC

	PNGs            []string
	BMPs            []string
	MissingTextures []string
}

// NewArtifacts derives every path for input from the naming convention.
func NewArtifacts(input string, addSuffix bool) *Artifacts {
	return &Artifacts{
		Input:      input,
		WorkDir:    naming.WorkDir(input),
		GoldSrcDir: naming.GoldSrcDir(input),
		Output:     naming.OutputPath(input, addSuffix),
		GoldSrcQC:  naming.GoldSrcQC(input),
	}
}

// Stem is the input model's name without extension.
func (a *Artifacts) Stem() string { return naming.Stem(a.Input) }

// FindSourceQC locates the decompiled QC in WorkDir, ignoring the GoldSrc
// directory. A QC named after the model wins; otherwise the first in
// lexical order.
func (a *Artifacts) FindSourceQC() (string, error) {
	if a.SourceQC != "" {
		return a.SourceQC, nil
	}
	var found []string
	err := filepath.WalkDir(a.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == a.GoldSrcDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".qc") {
			found = append(found, path)
		}
		return nil
	})
	if err != nil || len(found) == 0 {
		return "", ErrNoQC
	}
	sort.Strings(found)
	for _, f := range found {
		if strings.EqualFold(naming.Stem(f), a.Stem()) {
			a.SourceQC = f
			return f, nil
		}
	}
	a.SourceQC = found[0]
	return found[0], nil
}
