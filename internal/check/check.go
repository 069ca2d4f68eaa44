// Package check provides the diagnostics behind "s2g check" and the
// pre-run probe of the wine runtime (CheckDeps).
package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/backmassage/s2g/internal/config"
)

// Sentinel errors returned by CheckDeps.
var (
	ErrWineFailed     = errors.New("wine did not start")
	ErrPrefixNotDir   = errors.New("wine prefix exists but is not a directory")
	ErrNoMaterialVTFs = errors.New("material directory holds no .vtf files")
)

// probeTimeout bounds a single tool probe.
const probeTimeout = 30 * time.Second

// Logger is the minimal logging interface needed by RunCheck.
// Defined here so check stays testable with a recording logger.
type Logger interface {
	Info(string, ...any)
	Success(string, ...any)
	Warn(string, ...any)
	Error(string, ...any)
	Debug(string, ...any)
}

// RunCheck reports on every configured tool and returns the number of
// problems found. It keeps going after a failure so one run shows
// everything that needs fixing.
func RunCheck(ctx context.Context, p config.ToolPaths, log Logger) int {
	log.Info("=== System Check ===")
	log.Debug("config base directory: %s", p.BaseDir)

	tools, err := config.NewToolConfig(p)
	if err != nil {
		log.Error("%v", err)
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			log.Info("  set %q in config.toml or S2G_%s", ce.Field, strings.ToUpper(ce.Field))
		}
		return 1
	}
	log.Success("crowbar: %s", tools.Crowbar())
	log.Success("studiomdl: %s", tools.Studiomdl())

	problems := 0
	if tools.NeedsWine() {
		if err := checkWine(ctx, tools, log); err != nil {
			problems++
		}
	} else {
		log.Info("wine: not needed on this host")
	}
	problems += checkMaterialDirs(tools, log)
	if problems == 0 {
		log.Success("All checks passed")
	}
	return problems
}

func checkWine(ctx context.Context, tools config.ToolConfig, log Logger) error {
	err := CheckDeps(ctx, tools)
	switch {
	case errors.Is(err, ErrPrefixNotDir):
		log.Error("WINEPREFIX %s: %v", tools.WinePrefix(), err)
		return err
	case err != nil:
		log.Error("wine (%s): %v", tools.Wine(), err)
		return err
	}
	version, _ := wineVersion(ctx, tools)
	log.Success("wine: %s (%s)", tools.Wine(), version)
	if fi, err := os.Stat(tools.WinePrefix()); err == nil && fi.IsDir() {
		log.Success("WINEPREFIX: %s", tools.WinePrefix())
	} else {
		log.Warn("WINEPREFIX %s does not exist yet; wine will create it on first use", tools.WinePrefix())
	}
	return nil
}

// checkMaterialDirs counts the VTFs under each configured material root.
func checkMaterialDirs(tools config.ToolConfig, log Logger) int {
	dirs := tools.MaterialDirs()
	if len(dirs) == 0 {
		log.Info("material_dirs: none configured")
		return 0
	}
	problems := 0
	for _, dir := range dirs {
		n, err := countVTFs(dir)
		switch {
		case err != nil:
			log.Error("material dir %s: %v", dir, err)
			problems++
		case n == 0:
			log.Warn("material dir %s: %v", dir, ErrNoMaterialVTFs)
		default:
			log.Success("material dir %s: %d textures", dir, n)
		}
	}
	return problems
}

func countVTFs(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".vtf") {
			n++
		}
		return nil
	})
	return n, err
}

// CheckDeps is the pre-run validation of the wine runtime: the prefix must
// not be a regular file and "wine --version" must succeed. Native hosts
// always pass.
func CheckDeps(ctx context.Context, tools config.ToolConfig) error {
	if !tools.NeedsWine() {
		return nil
	}
	if fi, err := os.Stat(tools.WinePrefix()); err == nil && !fi.IsDir() {
		return ErrPrefixNotDir
	}
	if _, err := wineVersion(ctx, tools); err != nil {
		return fmt.Errorf("%w: %v", ErrWineFailed, err)
	}
	return nil
}

// wineVersion runs "wine --version" under the configured prefix and
// returns its first output line.
func wineVersion(ctx context.Context, tools config.ToolConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, tools.Wine(), "--version")
	cmd.Env = append(os.Environ(), "WINEPREFIX="+tools.WinePrefix())
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	return line, nil
}
