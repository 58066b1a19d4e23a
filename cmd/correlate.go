package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/prototype"
)

var correlateCmd = &cobra.Command{
	Use:   "correlate <session-id>",
	Short: "Print a session as one time-ordered event stream",
	Long: `Gathers the session's events from every collector store, falls back to
the session's time window for stores that never saw the id, merges
matching bot log lines and prints the result in time order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipeline.Correlator.Correlate(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}

		fmt.Printf("Session %s: %d events, %s to %s\n", res.Session.ID, len(res.Events),
			formatTime(res.Session.InferredStart), formatTime(res.Session.InferredEnd))
		names := make([]string, 0, len(res.Sources))
		for name := range res.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := res.Sources[name]
			if st.Unavailable {
				fmt.Printf("  %-8s unavailable\n", name)
				continue
			}
			fmt.Printf("  %-8s %d exact, %d by window\n", name, st.Exact, st.Fallback)
		}
		if res.LogLines > 0 {
			fmt.Printf("  %-8s %d lines\n", "logfiles", res.LogLines)
		}
		fmt.Println()
		for _, e := range res.Events {
			ts := e.RawTimestamp
			if !e.Timestamp.IsZero() {
				ts = e.Timestamp.Local().Format("15:04:05.000")
			}
			fmt.Printf("%-12s %-20s %s\n", ts, e.Kind, prototype.Describe(e))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(correlateCmd)
}
