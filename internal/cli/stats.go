package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/a1betting/propcore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(storeStatsCmd)
}

var storeStatsCmd = &cobra.Command{
	Use:   "store-stats",
	Short: "Print projection store statistics as JSON",
	RunE:  runStoreStats,
}

func runStoreStats(cmd *cobra.Command, args []string) error {
	sup, err := daemon.New()
	if err != nil {
		return err
	}
	defer sup.Close()

	stats, err := sup.DB.Stats(time.Now().UTC())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
