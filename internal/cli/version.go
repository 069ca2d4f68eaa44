package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the s2g version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "s2g %s (%s) %s/%s\n", a.build.Version, a.build.Commit, runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
