package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/epluse/sensors/cmd/dev/cmd"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("dev command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:   "dev",
		Short: "Developer tasks for the tee301 cli",
		Long: `Developer tasks for the tee301 cli.

  dev build             build dist/tee301 with version info injected into pkg/config
  dev test | lint       run unit tests or linters
  dev integration-test  run tests that need a TEE301 on a real bus
  dev smoke             drive dist/tee301 against the simulated sensor
  dev changelog         regenerate CHANGELOG.md from conventional commits`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(newLogger(debug)))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		cmd.BuildCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
		cmd.SmokeCmd(),
		cmd.ChangelogCmd(),
	)
	return root
}

func newLogger(debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "dev",
	})
	logger.SetColorProfile(termenv.TrueColor)
	logger.SetLevel(log.InfoLevel)
	if debug {
		logger.SetLevel(log.DebugLevel)
		logger.SetReportCaller(true)
	}
	return logger
}
