// Package naming owns the file naming convention shared by every stage:
// the marker suffix on converted models, the per-model work directory,
// and the paths each stage reads and writes.
//
// For an input <dir>/<stem>.mdl:
//
//	<dir>/<stem>_s2g/                  work directory (decompiler output)
//	<dir>/<stem>_s2g/goldsrc/          textures, rewritten QC and SMDs
//	<dir>/<stem>_s2g/goldsrc/<stem>.qc GoldSrc QC handed to the compiler
//	<dir>/<stem>_goldsrc.mdl           compiled output with --add-suffix
//	<dir>/<stem>_s2g/<stem>.mdl        compiled output otherwise
package naming
