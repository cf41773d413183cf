package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/orrn/printq/internal/core"
)

func NewJobsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage print jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(env),
		newJobsCompletedCmd(env),
		newJobsEnqueueCmd(env),
		newJobsCancelCmd(env),
		newJobsRestartCmd(env),
	)
	return cmd
}

func printJobs(w io.Writer, jobs []core.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	for _, j := range jobs {
		printer := j.AssignedPrinter
		if j.State == core.JobStateCompleted {
			printer = j.PrintedOn
		}
		fmt.Fprintf(w, "%s | %-9s | prio=%d | attempts=%d | order=%s | %s | %s\n",
			j.ID, j.State, j.Priority, j.Attempts, j.OrderID, printer, j.FilePath)
	}
}

func newJobsListCmd(env *Env) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending and assigned jobs in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			jobs, err := stores.Jobs.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			if state != "" {
				filtered := jobs[:0]
				for _, j := range jobs {
					if string(j.State) == state {
						filtered = append(filtered, j)
					}
				}
				jobs = filtered
			}

			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by job state (pending, assigned)")
	return cmd
}

func newJobsCompletedCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "completed",
		Short: "List completed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			jobs, err := stores.Jobs.ListCompleted(cmd.Context())
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
}

func newJobsEnqueueCmd(env *Env) *cobra.Command {
	var (
		orderID  string
		article  string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <file>",
		Short: "Add a file to the print queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			if !cmd.Flags().Changed("priority") {
				priority = env.Config.Orders.DefaultPriority
			}

			id, err := stores.Jobs.Enqueue(cmd.Context(), core.Job{
				OrderID:  orderID,
				Article:  article,
				FilePath: args[0],
				Priority: priority,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "Marketplace order id")
	cmd.Flags().StringVar(&article, "article", "", "Article the label belongs to")
	cmd.Flags().IntVarP(&priority, "priority", "p", 1, "Priority, lower is served first")
	return cmd
}

func newJobsCancelCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Remove a job in any state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			ok, err := stores.Jobs.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrJobNotFound, args[0])
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Job removed:", args[0])
			return nil
		},
	}
}

func newJobsRestartCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Requeue a job under a new id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			newID, ok, err := stores.Jobs.Restart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrJobNotFound, args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Job restarted: %s -> %s\n", args[0], newID)
			return nil
		},
	}
}
