package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/a1betting/propcore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the full service",
	Long: `Run the HTTP API with background ingestion and scorer training.
The listener binds the first free port in the configured range
(default 8000-8010) and reports it on /health.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	sup, err := daemon.New()
	if err != nil {
		return err
	}
	return sup.Serve(context.Background())
}
