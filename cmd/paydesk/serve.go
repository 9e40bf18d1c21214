package main

import (
	"github.com/smallbiznis/paydesk/internal/migration"
	"github.com/smallbiznis/paydesk/internal/scheduler"
	"github.com/smallbiznis/paydesk/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				core(),
				migration.Module,
				server.Module,
			}
			if !noScheduler {
				opts = append(opts, scheduler.Module)
			}

			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "skip the sweep and warmup jobs")
	return cmd
}
