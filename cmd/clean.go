// File: cmd/clean.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsenderov/droidprobe/internal/config"
	"github.com/tsenderov/droidprobe/internal/observability"
	"github.com/tsenderov/droidprobe/internal/store"
)

// newCleanCmd creates the `clean` command, which prunes expired run artifacts.
func newCleanCmd() *cobra.Command {
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Removes run artifacts older than the retention window",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("artifacts.retention_days", cmd.Flags().Lookup("retention-days"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			fileStore, err := store.NewFileStore(cfg.Artifacts, observability.GetLogger())
			if err != nil {
				return err
			}

			retention := time.Duration(cfg.Artifacts.RetentionDays) * 24 * time.Hour
			removed, err := fileStore.CleanupOlderThan(retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired run director%s\n", removed, plural(removed, "y", "ies"))
			return nil
		},
	}

	cleanCmd.Flags().Int("retention-days", 0, "remove runs older than this many days")
	return cleanCmd
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
