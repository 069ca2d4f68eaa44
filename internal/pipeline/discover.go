package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/backmassage/s2g/internal/naming"
)

// ErrNotModelPath is returned for a root that is neither a regular file
// nor a directory.
var ErrNotModelPath = errors.New("not a file or directory")

// WalkError reports a root that could not be enumerated. It is fatal for
// the run.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("walk %s: %v", e.Path, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }

// Discover returns the .mdl files to convert under root, sorted.
//
// A file root yields itself when it is a model and nothing otherwise. A
// directory root is walked recursively. A directory named <stem>_s2g is
// pruned as an earlier run's work directory only when <stem>.mdl sits
// beside it; any other folder is walked. With ignoreConverted, names already carrying the
// converted marker are skipped.
func Discover(root string, ignoreConverted bool) ([]string, error) {
	if root == "" {
		return nil, &WalkError{Path: root, Err: fs.ErrNotExist}
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, &WalkError{Path: root, Err: err}
	}

	wanted := func(path string) bool {
		return naming.IsModel(path) && !(ignoreConverted && naming.HasMarker(path))
	}

	switch {
	case fi.Mode().IsRegular():
		if !wanted(root) {
			return nil, nil
		}
		return []string{root}, nil
	case !fi.IsDir():
		return nil, &WalkError{Path: root, Err: ErrNotModelPath}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && isWorkDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && wanted(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &WalkError{Path: root, Err: err}
	}
	sort.Strings(files)
	return files, nil
}

// isWorkDir reports whether dir is the work directory of a model in its
// parent directory.
func isWorkDir(dir string) bool {
	stem, ok := naming.WorkDirStem(filepath.Base(dir))
	if !ok {
		return false
	}
	entries, err := os.ReadDir(filepath.Dir(dir))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && naming.IsModel(e.Name()) && strings.EqualFold(naming.Stem(e.Name()), stem) {
			return true
		}
	}
	return false
}
