package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/retention"
)

var purgeSession string

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Apply the retention policy now",
	Long: `Purges sessions older than retention.retention_days, then the oldest
sessions until the stores fit retention.max_store_size_bytes, and compacts
the stores. With --purge, removes one session regardless of age.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := context.Background()

		var rep *retention.Report
		if purgeSession != "" {
			rep = a.pipeline.Retention.PurgeSession(ctx, purgeSession)
		} else {
			rep, err = a.pipeline.Retention.EnforceRetention(ctx)
			if err != nil {
				return err
			}
		}
		if jsonOutput {
			return printJSON(rep)
		}

		if purgeSession == "" {
			fmt.Printf("Cutoff:   %s\n", formatTime(rep.Cutoff))
			fmt.Printf("Expired:  %d session(s)\n", rep.ExpiredPurged)
			fmt.Printf("Over cap: %d session(s)\n", rep.OverCapPurged)
			fmt.Printf("Size:     %d -> %d bytes\n", rep.SizeBefore, rep.SizeAfter)
		}
		fmt.Printf("Rows purged: %d (%d outside any session)\n", rep.RowsPurged, rep.OrphanRows)
		for _, e := range rep.Errors {
			fmt.Printf("  error: %s %s: %s\n", e.Store, e.Op, e.Err)
		}
		if len(rep.Errors) > 0 {
			return fmt.Errorf("%d store operation(s) failed", len(rep.Errors))
		}
		return nil
	},
}

func init() {
	retentionCmd.Flags().StringVar(&purgeSession, "purge", "", "purge one session by id")
	rootCmd.AddCommand(retentionCmd)
}
