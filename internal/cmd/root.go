// Package cmd implements the convgen command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// cfg is loaded by the root PersistentPreRunE before any subcommand runs.
	cfg *config.Config

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "convgen",
	Short: "Generate and score synthetic training conversations",
	Long: `convgen generates multi-turn training conversations with an LLM, scores
them against tier-specific quality criteria, and stores them for review.

Calls are admitted by a sliding-window rate limiter and retried with
exponential backoff. Batches run in-process or, with --durable, as a
Temporal workflow.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./convgen.yaml or ./config/convgen.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging.format (text, json, tint)")

	rootCmd.AddCommand(versionCmd, generateCmd, batchCmd, scoreCmd, serveCmd, migrateCmd, conversationsCmd, ratelimitCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if logFormat != "" {
		loaded.Logging.Format = logFormat
	}

	handler, err := newLogHandler(cmd.ErrOrStderr(), loaded.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))

	cfg = loaded
	return nil
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print version information",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "convgen %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

// ExitWithError prints err and exits with status 1.
func ExitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
