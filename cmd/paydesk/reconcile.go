package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/paydesk/internal/ingest"
	"github.com/smallbiznis/paydesk/internal/money"
	"github.com/smallbiznis/paydesk/internal/processor"
	"github.com/smallbiznis/paydesk/internal/reconcile"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type stateOutput struct {
	CaptureID      string   `json:"captureId"`
	Currency       string   `json:"currency"`
	Gross          string   `json:"gross"`
	TotalRefunded  string   `json:"totalRefunded"`
	Remaining      string   `json:"remaining"`
	Status         string   `json:"status"`
	Sources        []string `json:"sources"`
	Degraded       bool     `json:"degraded"`
	DegradedReason string   `json:"degradedReason,omitempty"`
	DebugID        string   `json:"debugId,omitempty"`
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [captureId]",
		Short: "Print the reconciled refund state of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var engine reconciledomain.Engine
			app := fx.New(
				core(),
				processor.Module,
				ingest.Module,
				reconcile.Module,
				fx.Populate(&engine),
				fx.NopLogger,
			)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer app.Stop(context.WithoutCancel(cmd.Context()))

			state, err := engine.Reconcile(cmd.Context(), strings.TrimSpace(args[0]), nil)
			if err != nil && (state == nil || !errors.Is(err, reconciledomain.ErrDegraded)) {
				return fmt.Errorf("reconcile %s: %w", args[0], err)
			}

			out := stateOutput{
				CaptureID:      state.CaptureID,
				Currency:       state.Currency,
				Gross:          money.Format(state.Gross),
				TotalRefunded:  money.Format(state.TotalRefunded),
				Remaining:      money.Format(state.Remaining),
				Status:         string(state.Status),
				Degraded:       state.Degraded,
				DegradedReason: state.DegradedReason,
				DebugID:        state.DebugID,
			}
			for _, source := range state.Sources {
				out.Sources = append(out.Sources, string(source))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	return cmd
}
