package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orrn/printq/internal/app"
)

func NewServeCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, env.Config, env.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
}
