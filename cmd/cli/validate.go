// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adiadia/triage-runtime/internal/config"
	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/tools"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Validate a pipeline file and print the effective plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p config.Pipeline
			if len(args) == 1 {
				var err error
				if p, err = config.LoadPipeline(args[0]); err != nil {
					return err
				}
			}

			plan := domain.FraudTriagePlan()
			if err := tools.NewToolset(tools.Sources{}).Check(plan); err != nil {
				return err
			}

			cfg := p.Apply(config.Load())
			overrides := p.StepTimeouts()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan: %d steps\n", len(plan))
			for i, step := range plan {
				timeout := cfg.StepTimeout
				if d, ok := overrides[step]; ok {
					timeout = d
				}
				fmt.Fprintf(out, "  %d. %-22s timeout=%s\n", i+1, step, timeout)
			}
			fmt.Fprintf(out, "run_timeout: %s\n", runTimeoutString(cfg))
			fmt.Fprintf(out, "breaker: threshold=%d cool_down=%s\n", cfg.BreakerThreshold, cfg.BreakerCoolDown)

			if len(p.Steps) > 0 {
				names := make([]string, 0, len(p.Steps))
				for name := range p.Steps {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Fprintf(out, "overrides: %v\n", names)
			}
			return nil
		},
	}
	return cmd
}

func runTimeoutString(cfg config.Config) string {
	if cfg.RunTimeout <= 0 {
		return "unbounded"
	}
	return cfg.RunTimeout.String()
}
