// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var integrationPackages = []string{
	"./internal/persistence/postgres",
	"./internal/repository",
	"./internal/worker",
}

type checkStep struct {
	name string
	run  func(ctx context.Context) error
}

func checkCmd(logger *slog.Logger) *cobra.Command {
	var skipIntegration bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run gofmt, go vet and the test suites",
		Long: `Run the repository checks in order:
- gofmt on every Go file
- go vet ./...
- unit tests
- integration tests when DATABASE_URL is set`,
		RunE: func(cmd *cobra.Command, args []string) error {
			withDB := !skipIntegration && strings.TrimSpace(os.Getenv("DATABASE_URL")) != ""
			if !withDB {
				logger.Info("integration tests disabled", "skip_flag", skipIntegration)
			}
			return runChecks(cmd.Context(), logger, checkSteps(logger, withDB))
		},
	}

	cmd.Flags().BoolVar(&skipIntegration, "skip-integration", false, "Do not run the Postgres-backed tests")
	return cmd
}

func checkSteps(logger *slog.Logger, integration bool) []checkStep {
	steps := []checkStep{
		{name: "gofmt", run: func(ctx context.Context) error { return gofmtCheck(ctx, logger, ".") }},
		{name: "go vet", run: goCommand("vet", "./...")},
		{name: "unit tests", run: goCommand("test", "./...")},
	}
	if integration {
		args := append([]string{"test", "-count=1", "-tags=integration"}, integrationPackages...)
		steps = append(steps, checkStep{name: "integration tests", run: goCommand(args...)})
	}
	return steps
}

// runChecks stops at the first failing step.
func runChecks(ctx context.Context, logger *slog.Logger, steps []checkStep) error {
	started := time.Now()
	for _, s := range steps {
		logger.Info("check step started", "step", s.name)
		stepStart := time.Now()

		if err := s.run(ctx); err != nil {
			logger.Error("check step failed",
				"step", s.name,
				"duration_ms", time.Since(stepStart).Milliseconds(),
				"exit_code", exitCode(err),
			)
			return fmt.Errorf("%s: %w", s.name, err)
		}
		logger.Info("check step passed", "step", s.name, "duration_ms", time.Since(stepStart).Milliseconds())
	}
	logger.Info("check complete", "steps", len(steps), "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func goCommand(args ...string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "go", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		return cmd.Run()
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func gofmtCheck(ctx context.Context, logger *slog.Logger, root string) error {
	files, err := listGoFiles(root)
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		logger.Info("no go files to format")
		return nil
	}

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return err
	}

	if unformatted := strings.TrimSpace(string(out)); unformatted != "" {
		return fmt.Errorf("gofmt would change files:\n%s", unformatted)
	}
	return nil
}

// listGoFiles skips hidden directories, vendor, and trees starting with an
// underscore, the same rule the go tool applies.
func listGoFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}

		if filepath.Ext(path) == ".go" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}
