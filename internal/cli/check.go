package cli

import (
	"github.com/spf13/cobra"

	"github.com/backmassage/s2g/internal/check"
	"github.com/backmassage/s2g/internal/config"
)

func newCheckCommand(a *app) *cobra.Command {
	var winePrefix string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the configured tools, wine and material directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := config.LoadToolPaths(a.settings.ConfigPath)
			if err != nil {
				a.log.Error("%v", err)
				return err
			}
			if winePrefix != "" {
				paths.WinePrefix = winePrefix
			}
			if check.RunCheck(cmd.Context(), paths, a.log) > 0 {
				return ErrCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&winePrefix, "wineprefix", "", "WINEPREFIX override")
	return cmd
}
