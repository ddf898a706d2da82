package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
}

func IntegrationTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integration-test",
		Short: "Run integration tests against a connected sensor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Integ(); err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			return nil
		},
	}
}

// smokeRuns are executed in order against the simulated sensor.
var smokeRuns = [][]string{
	{"identify"},
	{"measure", "--repeatability", "low"},
	{"periodic", "--rate", "10", "--samples", "3"},
	{"heater", "status"},
	{"status", "read"},
	{"reset"},
}

func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the built cli against the mock adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := cmd.Flags().GetString("binary")
			if err != nil {
				return fmt.Errorf("could not get binary flag: %w", err)
			}
			if _, err := os.Stat(bin); err != nil {
				return fmt.Errorf("binary not found, run dev build first: %w", err)
			}
			for _, run := range smokeRuns {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				c := exec.CommandContext(ctx, bin, append([]string{"--adapter", "mock"}, run...)...)
				c.Stdout = os.Stdout
				c.Stderr = os.Stderr
				slog.Info("smoke run", "args", run)
				err := c.Run()
				cancel()
				if err != nil {
					return fmt.Errorf("smoke run %v failed: %w", run, err)
				}
			}
			slog.Info("smoke runs passed", "count", len(smokeRuns))
			return nil
		},
	}
	cmd.Flags().String("binary", binary, "cli binary to exercise")
	return cmd
}
