package main

import (
	"context"
	"fmt"

	"modbot/internal/app"

	"github.com/spf13/cobra"
)

func sweepCommand() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the expiry and completion sweeps once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if only != "" {
					if err := a.Sweeper().Tick(ctx, only); err != nil {
						return err
					}
				} else if err := a.Sweeper().RunAll(ctx); err != nil {
					return err
				}
				for _, st := range a.Sweeper().Snapshot() {
					if st.Runs > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", st.Name)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&only, "task", "", fmt.Sprintf("run a single task (%s or %s)", app.TaskReprimandExpiry, app.TaskEventCompletion))
	return cmd
}
