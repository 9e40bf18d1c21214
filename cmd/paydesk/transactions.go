package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/smallbiznis/paydesk/internal/money"
	"github.com/smallbiznis/paydesk/internal/processor"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func transactionsCmd() *cobra.Command {
	var (
		since    time.Duration
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List recent rows from the processor reporting feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var gateway processordomain.Gateway
			app := fx.New(
				core(),
				processor.Module,
				fx.Populate(&gateway),
				fx.NopLogger,
			)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer app.Stop(context.WithoutCancel(cmd.Context()))

			end := time.Now().UTC()
			page, err := gateway.ListTransactions(cmd.Context(), processordomain.TransactionQuery{
				Start:    end.Add(-since),
				End:      end,
				PageSize: pageSize,
				Page:     1,
			})
			if err != nil {
				return fmt.Errorf("list transactions (debug id %q): %w", processordomain.DebugIDOf(err), err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tTRANSACTION\tCAPTURE\tSTATUS\tAMOUNT\tCURRENCY\tEVENT")
			for _, row := range page.Rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					row.CreatedAt.Format(time.RFC3339),
					row.TransactionID,
					row.CaptureID(),
					row.Status,
					money.Format(row.Amount),
					row.Currency,
					row.EventCode,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows, %d pages\n", len(page.Rows), page.TotalPages)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 72*time.Hour, "how far back to read")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "rows per page")
	return cmd
}
