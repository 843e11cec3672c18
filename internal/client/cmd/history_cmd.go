package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [peer-id]",
	Short: "show the call journal",
	Long:  `history lists recent calls from the local journal, optionally filtered to one peer`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		if cfg.Journal == "" {
			log.Fatal("no journal configured, set journal in the config file")
			return
		}

		journal, err := store.Open(cfg.Journal)
		if err != nil {
			log.Fatal(err)
			return
		}

		var records []store.CallRecord
		if len(args) == 1 {
			records, err = journal.CallsWith(args[0])
		} else {
			records, err = journal.Recent(historyLimit)
		}
		if err != nil {
			log.Fatal(err)
			return
		}

		if len(records) == 0 {
			fmt.Println("no calls journaled")
			return
		}
		for _, rec := range records {
			started := time.Unix(rec.StartedAt, 0).Format("2006-01-02 15:04:05")
			duration := time.Duration(rec.EndedAt-rec.StartedAt) * time.Second
			fmt.Printf("%s  %-12s %-9s %-13s %8s", started, rec.PeerID, rec.Role, rec.Outcome, duration)
			if rec.DegradedMs > 0 {
				fmt.Printf("  (degraded %s)", time.Duration(rec.DegradedMs)*time.Millisecond)
			}
			fmt.Println()
		}
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of calls to list")
}
