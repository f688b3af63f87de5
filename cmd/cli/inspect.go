// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/adiadia/triage-runtime/internal/redact"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [text]",
		Short: "Report and mask PII in free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			r := redact.New()
			kinds := r.Detect(text)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"contains_pii": len(kinds) > 0,
				"types":        kinds,
				"spans":        r.Spans(text),
				"redacted":     r.Redact(text),
			})
		},
	}
}
