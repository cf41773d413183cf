package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orrn/printq/internal/app"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/logging"
)

// Env carries the resolved config to subcommands.
type Env struct {
	ConfigPath string
	Config     *config.Config
	Logger     *slog.Logger
}

func (e *Env) load() error {
	if e.Config != nil {
		return nil
	}
	cfg, err := config.Load(e.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	e.Config = cfg
	e.Logger = logging.New(cfg.Logging, os.Stderr)
	return nil
}

func (e *Env) openStores(ctx context.Context) (*app.Stores, error) {
	if err := e.load(); err != nil {
		return nil, err
	}
	return app.OpenStores(ctx, e.Config.Store)
}

func NewRootCmd() *cobra.Command {
	env := &Env{}

	cmd := &cobra.Command{
		Use:           "printq",
		Short:         "Print job dispatcher for marketplace order labels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&env.ConfigPath, "config", "c", "config.yaml", "Path to the config file")

	cmd.AddCommand(
		NewServeCmd(env),
		NewIngestCmd(env),
		NewJobsCmd(env),
		NewPrintersCmd(env),
		NewArchiveCmd(env),
		NewHashPasswordCmd(),
	)
	return cmd
}
