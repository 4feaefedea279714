// Package cli implements the propcore command-line interface using
// Cobra: serve, ingest-once, and store-stats.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/a1betting/propcore/internal/daemon"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "propcore",
	Short: "propcore — sports-prop aggregation and ranking service",
	Long: `propcore pulls player-prop projections from the upstream provider,
persists them locally, and serves ranked, explained predictions over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error); overrides config")
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if level == "" {
		if cfg, err := daemon.LoadConfig(); err == nil {
			level = cfg.Logging.Level
		}
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// Execute runs the root command. Exit codes: 0 success, 1 operational
// failure, 2 configuration error.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ce *daemon.ConfigError
		if errors.As(err, &ce) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
