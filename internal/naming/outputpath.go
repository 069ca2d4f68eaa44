package naming

import (
	"path/filepath"
	"strings"
)

const (
	// ModelExt is the extension of both source and compiled models.
	ModelExt = ".mdl"
	// MarkerSuffix tags converted models and lets reruns recognize them.
	MarkerSuffix = "_goldsrc"
	// WorkDirSuffix names the per-model work directory.
	WorkDirSuffix = "_s2g"
	// GoldSrcDirName is the compiler's working directory inside the work dir.
	GoldSrcDirName = "goldsrc"
)

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsModel reports whether path has the model extension (case-insensitive).
func IsModel(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ModelExt)
}

// HasMarker reports whether the file's stem ends with [MarkerSuffix].
func HasMarker(path string) bool {
	return strings.HasSuffix(strings.ToLower(Stem(path)), MarkerSuffix)
}

// IsWorkDir reports whether a directory name is a work directory.
func IsWorkDir(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), WorkDirSuffix)
}

// WorkDirStem returns the model stem a work directory name belongs to.
func WorkDirStem(name string) (string, bool) {
	if !IsWorkDir(name) || len(name) == len(WorkDirSuffix) {
		return "", false
	}
	return name[:len(name)-len(WorkDirSuffix)], true
}

// WorkDir returns the work directory for input.
func WorkDir(input string) string {
	return filepath.Join(filepath.Dir(input), Stem(input)+WorkDirSuffix)
}

// GoldSrcDir returns the compiler working directory for input.
func GoldSrcDir(input string) string {
	return filepath.Join(WorkDir(input), GoldSrcDirName)
}

// GoldSrcQC returns the path of the assembled QC for input.
func GoldSrcQC(input string) string {
	return filepath.Join(GoldSrcDir(input), Stem(input)+".qc")
}

// CompiledName is the $modelname the compiler writes into [GoldSrcDir].
func CompiledName(input string) string {
	return Stem(input) + ModelExt
}

// OutputPath returns where the compiled model is finally placed.
//
//	addSuffix: <dir>/<stem>_goldsrc.mdl
//	otherwise: <dir>/<stem>_s2g/<stem>.mdl
func OutputPath(input string, addSuffix bool) string {
	if addSuffix {
		return filepath.Join(filepath.Dir(input), Stem(input)+MarkerSuffix+ModelExt)
	}
	return filepath.Join(WorkDir(input), CompiledName(input))
}

// TextureName reduces a material reference ("models\props/Crate01.vmt") to
// the bare texture stem ("Crate01") used for .png and .bmp files.
func TextureName(material string) string {
	m := strings.ReplaceAll(material, "\\", "/")
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	switch strings.ToLower(filepath.Ext(m)) {
	case ".vmt", ".vtf", ".tga", ".bmp", ".png":
		m = strings.TrimSuffix(m, filepath.Ext(m))
	}
	return strings.TrimSpace(m)
}
