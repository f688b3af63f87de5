// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adiadia/triage-runtime/internal/app"
	"github.com/adiadia/triage-runtime/internal/domain"
)

func runCmd(logger *slog.Logger) *cobra.Command {
	var in domain.CaseInput

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one fraud triage case against the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pipeline, err := app.LoadConfig()
			if err != nil {
				return err
			}

			rt, err := app.Build(cmd.Context(), cfg, pipeline, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			in.UserMessage = rt.Redactor.Redact(in.UserMessage)
			res, runErr := rt.Orchestrator.Run(cmd.Context(), in)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&in.CustomerID, "customer", "c", "", "Customer id")
	cmd.Flags().StringVarP(&in.SuspectTransactionID, "txn", "t", "", "Suspect transaction id")
	cmd.Flags().StringVarP(&in.UserMessage, "message", "m", "", "Customer message")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}

func getCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get [execution-id]",
		Short: "Print a stored execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid execution id: %w", err)
			}

			cfg, pipeline, err := app.LoadConfig()
			if err != nil {
				return err
			}
			cfg.AutoMigrate = false

			rt, err := app.Build(cmd.Context(), cfg, pipeline, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.Executions.GetExecution(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
