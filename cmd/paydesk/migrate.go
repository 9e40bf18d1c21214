package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/paydesk/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			app := fx.New(
				core(),
				migration.Module,
				fx.Populate(&conn),
				fx.NopLogger,
			)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer app.Stop(context.WithoutCancel(cmd.Context()))

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", conn.Dialector.Name())
			return nil
		},
	}
}
