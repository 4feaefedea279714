package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/a1betting/propcore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(ingestOnceCmd)
}

var ingestOnceCmd = &cobra.Command{
	Use:   "ingest-once",
	Short: "Run one ingestion cycle and exit",
	Long: `Walk every active league once, upsert what the upstream returns,
and exit. Succeeds when at least one league ingested; fails when all
leagues failed.`,
	RunE: runIngestOnce,
}

func runIngestOnce(cmd *cobra.Command, args []string) error {
	sup, err := daemon.New()
	if err != nil {
		return err
	}
	defer sup.Close()

	if err := sup.Engine.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap leagues: %w", err)
	}

	report, err := sup.Engine.RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d projections from %d leagues (%d failed, %d bad rows) in %s\n",
		report.Projections, report.LeaguesOK, report.LeaguesFailed,
		report.ConversionErrors, report.Duration.Round(time.Millisecond))
	return nil
}
