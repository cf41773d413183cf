package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orrn/printq/internal/orders"
)

func NewIngestCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch new orders once and queue their labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			source, err := orders.NewWildberries(env.Config.Orders)
			if err != nil {
				return err
			}

			in := orders.NewIngestor(source, stores.Jobs, nil, env.Config.Orders, env.Logger)
			res, err := in.Ingest(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d queued=%d known=%d skipped=%d\n",
				res.Fetched, len(res.Enqueued), res.Known, res.Skipped)
			return nil
		},
	}
}
