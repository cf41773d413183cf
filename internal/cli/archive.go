package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orrn/printq/internal/archive"
)

func NewArchiveCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move old completed jobs into monthly archive files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Archive completed jobs past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			a, err := archive.NewArchiver(stores.Jobs, archive.ArchiveConfig{
				ArchivePath: env.Config.Archive.Path,
				ArchiveDays: env.Config.Archive.Days,
			}, env.Logger)
			if err != nil {
				return err
			}

			n, err := a.RunArchive(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %d jobs\n", n)
			return nil
		},
	})
	return cmd
}
