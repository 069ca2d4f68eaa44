// Command s2g is the entrypoint for the Source to GoldSrc model converter.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/backmassage/s2g/internal/cli"
)

// version and commit are set at build time via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	err := cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr, cli.BuildInfo{Version: version, Commit: commit})
	if err == nil {
		return
	}
	if !errors.Is(err, cli.ErrInterrupted) && !errors.Is(err, cli.ErrCheckFailed) {
		fmt.Fprintf(os.Stderr, "s2g: %v\n", err)
	}
	os.Exit(1)
}
