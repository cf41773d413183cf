package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orrn/printq/internal/app"
	"github.com/orrn/printq/internal/core"
)

func NewPrintersCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "printers",
		Short: "Manage the dispatch pool",
	}
	cmd.AddCommand(
		newPrintersListCmd(env),
		newPrintersAddCmd(env),
		newPrintersRemoveCmd(env),
	)
	return cmd
}

// openRegistry loads pool membership without a driver; statuses stay unknown.
func openRegistry(ctx context.Context, env *Env) (*core.Registry, *app.Stores, error) {
	stores, err := env.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	if stores.Pool == nil {
		stores.Close()
		return nil, nil, fmt.Errorf("store driver %q does not persist the printer pool", env.Config.Store.Driver)
	}

	registry := core.NewRegistry(nil, stores.Pool, &env.Config.Printers, env.Logger)
	if err := registry.Load(ctx); err != nil {
		stores.Close()
		return nil, nil, err
	}
	return registry, stores, nil
}

func newPrintersListCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pool members",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, stores, err := openRegistry(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer stores.Close()

			printers := registry.List()
			if len(printers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No printers registered.")
				return nil
			}
			for _, p := range printers {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s | type=%-10s | address=%s | location=%s\n",
					p.Name, p.Metadata[core.MetaType], p.Metadata[core.MetaAddress], p.Metadata[core.MetaLocation])
			}
			return nil
		},
	}
}

func newPrintersAddCmd(env *Env) *cobra.Command {
	var address, location string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a printer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, stores, err := openRegistry(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer stores.Close()

			meta := map[string]string{}
			if address != "" {
				meta[core.MetaAddress] = address
			}
			if location != "" {
				meta[core.MetaLocation] = location
			}
			if err := registry.Register(cmd.Context(), args[0], meta); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Printer registered:", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "host[:port] for the raw driver")
	cmd.Flags().StringVar(&location, "location", "", "Where the printer stands")
	return cmd
}

func newPrintersRemoveCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Deregister a printer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, stores, err := openRegistry(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := registry.Deregister(cmd.Context(), args[0]); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Printer removed:", args[0])
			return nil
		},
	}
}
